package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"dailytrader/internal/broker"
	"dailytrader/internal/calendar"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

const envPrefix = "BOT_"

type Config struct {
	Mode            Mode
	Exchange        string
	Timezone        string
	Currency        string
	SignalSymbol    string
	TradeSymbol     string
	StartingBalance decimal.Decimal
	Feed            string
	LoopDelay       time.Duration
	CallTimeout     time.Duration
	FillTimeout     time.Duration
	PollInterval    time.Duration
	BarLookbackDays int
	MaxBarAge       time.Duration
	MaxCycles       int
	KillSwitch      bool
	MaxNotional     decimal.Decimal
	CheckpointPath  string
	JournalPath     string
	LogLevel        string
	LogFormat       string
	LogFile         string
	MetricsAddr     string
	Tracing         bool
	BaseURL         string
	APIKey          string
	APISecret       string

	Preset calendar.Preset
}

// Load resolves settings with precedence flag > environment > YAML file > default.
// A .env file in the working directory is loaded first and never overrides the
// real environment.
func Load() (Config, error) {
	loadDotEnvIfPresent(".env")
	return load(flag.CommandLine, os.Args[1:])
}

func load(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	var mode string
	var configPath string

	fs.StringVar(&configPath, "config", "", "optional YAML config file")
	fs.StringVar(&mode, "mode", string(ModePaper), "trading mode: paper or live")
	fs.StringVar(&cfg.Exchange, "exchange", calendar.NYSE.Name, "exchange calendar preset: ASX or NYSE")
	fs.StringVar(&cfg.Timezone, "timezone", "", "exchange timezone (defaults to the preset's)")
	fs.StringVar(&cfg.Currency, "currency", "USD", "account currency")
	fs.StringVar(&cfg.SignalSymbol, "signal-symbol", "SPY", "instrument whose previous day decides the buy")
	fs.StringVar(&cfg.TradeSymbol, "trade-symbol", "EWA", "instrument bought at open and sold before close")
	fs.Var(decimalValue{&cfg.StartingBalance}, "starting-balance", "cash committed to the strategy")
	fs.StringVar(&cfg.Feed, "feed", "iex", "market data feed: iex or sip")
	fs.DurationVar(&cfg.LoopDelay, "loop-delay", 5*time.Second, "delay between cycles")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", 30*time.Second, "timeout for each broker call")
	fs.DurationVar(&cfg.FillTimeout, "fill-timeout", 10*time.Minute, "timeout waiting for an order fill")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 2*time.Second, "order status poll interval")
	fs.IntVar(&cfg.BarLookbackDays, "bar-lookback-days", 7, "calendar days of daily bars requested")
	fs.DurationVar(&cfg.MaxBarAge, "max-bar-age", 0, "max age of the latest signal bar at the open (0 disables)")
	fs.IntVar(&cfg.MaxCycles, "max-cycles", 0, "stop after this many cycles (0 runs forever)")
	fs.BoolVar(&cfg.KillSwitch, "kill-switch", false, "if true, never place orders")
	fs.Var(decimalValue{&cfg.MaxNotional}, "max-notional", "max cash per buy (0 means the whole balance)")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint-path", "checkpoint.json", "path to checkpoint file")
	fs.StringVar(&cfg.JournalPath, "journal-path", "cycles.ndjson", "path to cycle journal")
	fs.StringVar(&cfg.LogLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&cfg.LogFormat, "log-format", "json", "json or text")
	fs.StringVar(&cfg.LogFile, "log-file", "", "also write logs to this rotating file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&cfg.Tracing, "tracing", false, "export OpenTelemetry spans to stderr")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "override the broker base URL")

	if path := configFileArg(args); path != "" {
		if err := applyFile(fs, path); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(fs); err != nil {
		return cfg, err
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Mode = Mode(mode)
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	if cfg.BaseURL == "" {
		cfg.BaseURL = broker.PaperBaseURL
		if cfg.Mode == ModeLive {
			cfg.BaseURL = broker.LiveBaseURL
		}
	}

	preset, err := calendar.LookupPreset(cfg.Exchange)
	if err != nil {
		return cfg, err
	}
	cfg.Preset = preset
	if cfg.Timezone == "" {
		cfg.Timezone = preset.Timezone
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location loads the configured exchange timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func validate(cfg Config) error {
	if cfg.Mode != ModePaper && cfg.Mode != ModeLive {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.Timezone != cfg.Preset.Timezone {
		return fmt.Errorf("timezone %s does not match %s (%s)", cfg.Timezone, cfg.Preset.Name, cfg.Preset.Timezone)
	}
	if cfg.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if cfg.SignalSymbol == "" || cfg.TradeSymbol == "" {
		return fmt.Errorf("signal-symbol and trade-symbol are required")
	}
	if !cfg.StartingBalance.IsPositive() {
		return fmt.Errorf("starting-balance must be > 0")
	}
	if cfg.Feed != "iex" && cfg.Feed != "sip" {
		return fmt.Errorf("invalid feed: %s", cfg.Feed)
	}
	if cfg.LoopDelay < 0 {
		return fmt.Errorf("loop-delay must be >= 0")
	}
	if cfg.CallTimeout <= 0 || cfg.FillTimeout <= 0 || cfg.PollInterval <= 0 {
		return fmt.Errorf("call-timeout, fill-timeout and poll-interval must be > 0")
	}
	if cfg.BarLookbackDays < 2 {
		return fmt.Errorf("bar-lookback-days must be >= 2")
	}
	if cfg.MaxBarAge < 0 {
		return fmt.Errorf("max-bar-age must be >= 0")
	}
	if cfg.MaxCycles < 0 {
		return fmt.Errorf("max-cycles must be >= 0")
	}
	if cfg.MaxNotional.IsNegative() {
		return fmt.Errorf("max-notional must be >= 0")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log-format: %s", cfg.LogFormat)
	}
	if cfg.JournalPath == "" || cfg.CheckpointPath == "" {
		return fmt.Errorf("journal-path and checkpoint-path are required")
	}
	return nil
}

// configFileArg finds --config before the flag set is parsed, falling back to BOT_CONFIG.
func configFileArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" || !strings.HasPrefix(arg, "-") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func applyFile(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if key == "config" || fs.Lookup(key) == nil {
			return fmt.Errorf("config %s: unknown key %q", path, key)
		}
		if err := fs.Set(key, fmt.Sprint(values[key])); err != nil {
			return fmt.Errorf("config %s: %s: %w", path, key, err)
		}
	}
	return nil
}

func applyEnv(fs *flag.FlagSet) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if firstErr != nil || f.Name == "config" {
			return
		}
		name := EnvName(f.Name)
		value, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
	})
	return firstErr
}

// EnvName maps a flag name to its environment variable, e.g. loop-delay -> BOT_LOOP_DELAY.
func EnvName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func loadDotEnvIfPresent(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := loadDotEnv(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	}
}

func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

type decimalValue struct {
	d *decimal.Decimal
}

func (v decimalValue) String() string {
	if v.d == nil {
		return "0"
	}
	return v.d.String()
}

func (v decimalValue) Set(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}
