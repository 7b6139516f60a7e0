package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"dailytrader/internal/broker"
	"dailytrader/internal/config"
	"dailytrader/internal/engine"
	"dailytrader/internal/logger"
	"dailytrader/internal/metrics"
	"dailytrader/internal/order"
	"dailytrader/internal/risk"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
	"dailytrader/internal/trace"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	logCloser, err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 2
	}
	defer logCloser.Close()

	if err := trace.Init(cfg.Tracing, os.Stderr); err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("load timezone failed", "timezone", cfg.Timezone, "error", err)
		return 2
	}

	runID, nextOrderID := engine.NewRunID()
	journal := engine.OpenJournal(cfg.JournalPath, runID)
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Warn("failed to close journal", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, registry); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	dialer := broker.NewDialer(broker.Options{
		APIKey:       cfg.APIKey,
		APISecret:    cfg.APISecret,
		BaseURL:      cfg.BaseURL,
		Feed:         cfg.Feed,
		PollInterval: cfg.PollInterval,
	})
	gate := risk.Gate{KillSwitch: cfg.KillSwitch, MaxNotional: cfg.MaxNotional}
	store := state.NewStore(runID, cfg.StartingBalance)
	exec := order.NewExecutor(order.Config{
		Currency:     cfg.Currency,
		LookbackDays: cfg.BarLookbackDays,
		CallTimeout:  cfg.CallTimeout,
		FillTimeout:  cfg.FillTimeout,
	}, gate, nextOrderID)

	engineImpl := engine.New(engine.Config{
		SignalSymbol:    cfg.SignalSymbol,
		TradeSymbol:     cfg.TradeSymbol,
		Currency:        cfg.Currency,
		Preset:          cfg.Preset,
		Location:        loc,
		StartingBalance: cfg.StartingBalance,
		LoopDelay:       cfg.LoopDelay,
		CallTimeout:     cfg.CallTimeout,
		LookbackDays:    cfg.BarLookbackDays,
		MaxBarAge:       cfg.MaxBarAge,
		CheckpointPath:  cfg.CheckpointPath,
		MaxCycles:       cfg.MaxCycles,
	}, engine.Deps{
		Dialer: engine.DialFunc(func(ctx context.Context) (engine.Conn, error) {
			conn, err := dialer.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
		Executor: exec,
		Strategy: strategy.PrevDayUp{},
		Gate:     gate,
		Store:    store,
		Journal:  journal,
		Metrics:  m,
	})

	slog.Info("starting bot", "run_id", runID, "mode", cfg.Mode, "exchange", cfg.Preset.Name,
		"signal_symbol", cfg.SignalSymbol, "trade_symbol", cfg.TradeSymbol,
		"starting_balance", cfg.StartingBalance, "currency", cfg.Currency, "kill_switch", cfg.KillSwitch)

	err = engineImpl.Run(ctx)
	snap := store.Snapshot()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		if snap.Shares.IsPositive() {
			logger.Error(ctx, "stopped while holding a position, close it manually before restarting",
				"symbol", cfg.TradeSymbol, "shares", snap.Shares, "phase", snap.Phase, "checkpoint", cfg.CheckpointPath)
		}
		slog.Info("bot shutdown complete", "balance", snap.Balance)
		return 0
	default:
		slog.Error("bot stopped on fatal error", "error", err, "phase", snap.Phase, "shares", snap.Shares)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
}
