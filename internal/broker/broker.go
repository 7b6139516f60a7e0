package broker

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"dailytrader/internal/calendar"
	"dailytrader/internal/md"
	"dailytrader/internal/tradeerr"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"

	scheduleHorizon = 14 * 24 * time.Hour
)

type Options struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	Feed         string
	PollInterval time.Duration
}

type Dialer struct {
	opts Options
}

func NewDialer(opts Options) *Dialer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Dialer{opts: opts}
}

// Dial opens a connection and proves it with one account round trip.
func (d *Dialer) Dial(ctx context.Context) (*Client, error) {
	c := &Client{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    d.opts.APIKey,
			APISecret: d.opts.APISecret,
			BaseURL:   d.opts.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    d.opts.APIKey,
			APISecret: d.opts.APISecret,
		}),
		feed:         parseFeed(d.opts.Feed),
		pollInterval: d.opts.PollInterval,
	}
	if _, err := call(ctx, "connect", c.client.GetAccount); err != nil {
		slog.Error("broker connection failed", "base_url", d.opts.BaseURL, "error", err)
		return nil, err
	}
	slog.Info("connected to broker", "base_url", d.opts.BaseURL)
	return c, nil
}

type Client struct {
	client       *alpaca.Client
	data         *marketdata.Client
	feed         marketdata.Feed
	pollInterval time.Duration
	closed       atomic.Bool
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	slog.Info("broker connection released")
	return nil
}

func (c *Client) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]md.Bar, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     now.AddDate(0, 0, -lookbackDays),
		End:       now,
		Feed:      c.feed,
	}
	raw, err := call(ctx, "fetch daily bars", func() ([]marketdata.Bar, error) {
		return c.data.GetBars(symbol, req)
	})
	if err != nil {
		slog.Error("fetch bars failed", "symbol", symbol, "error", err)
		return nil, err
	}

	bars := make([]md.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, md.Bar{Symbol: symbol, Time: b.Timestamp, Close: decimal.NewFromFloat(b.Close)})
	}
	slog.Info("bars fetched", "symbol", symbol, "count", len(bars))
	return bars, nil
}

func (c *Client) CashBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := c.live(); err != nil {
		return decimal.Zero, err
	}
	acct, err := call(ctx, "fetch account", c.client.GetAccount)
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return decimal.Zero, err
	}
	if acct.Currency != currency {
		return decimal.Zero, tradeerr.New(tradeerr.Data, "cash balance", "account currency %s, want %s", acct.Currency, currency)
	}
	slog.Info("cash balance fetched", "currency", currency, "cash", acct.Cash)
	return acct.Cash, nil
}

func (c *Client) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.live(); err != nil {
		return decimal.Zero, err
	}
	pos, err := call(ctx, "fetch position", func() (*alpaca.Position, error) {
		return c.client.GetPosition(symbol)
	})
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			slog.Info("position fetched", "symbol", symbol, "qty", 0)
			return decimal.Zero, nil
		}
		slog.Error("fetch position failed", "symbol", symbol, "error", err)
		return decimal.Zero, err
	}
	slog.Info("position fetched", "symbol", symbol, "qty", pos.Qty, "avg_entry", pos.AvgEntryPrice)
	return pos.Qty, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (StatusStream, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	qty := req.Qty
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	order, err := call(ctx, "place order", func() (*alpaca.Order, error) {
		return c.client.PlaceOrder(orderReq)
	})
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "error", err)
		return nil, err
	}

	slog.Info("place order success", "order_id", order.ID, "client_order_id", order.ClientOrderID, "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "status", order.Status)
	return newStatusPoller(c, order.ID), nil
}

func (c *Client) OpenOrders(ctx context.Context) (int, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	orders, err := call(ctx, "fetch open orders", func() ([]alpaca.Order, error) {
		return c.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	})
	if err != nil {
		slog.Error("fetch open orders failed", "error", err)
		return 0, err
	}
	slog.Info("open orders fetched", "count", len(orders))
	return len(orders), nil
}

func (c *Client) CancelAllOpenOrders(ctx context.Context) error {
	if err := c.live(); err != nil {
		return err
	}
	if _, err := call(ctx, "cancel open orders", func() (struct{}, error) {
		return struct{}{}, c.client.CancelAllOrders()
	}); err != nil {
		slog.Error("cancel open orders failed", "error", err)
		return err
	}
	slog.Info("cancelled open orders")
	return nil
}

// ExchangeSchedule returns the market calendar as raw schedule entries. The alpaca
// calendar is market-wide, so symbol only labels the log line. Weekdays the provider
// omits are reported closed.
func (c *Client) ExchangeSchedule(ctx context.Context, symbol string) ([]string, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	start := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	end := start.Add(scheduleHorizon)
	days, err := call(ctx, "fetch calendar", func() ([]alpaca.CalendarDay, error) {
		return c.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
	})
	if err != nil {
		slog.Error("fetch calendar failed", "symbol", symbol, "error", err)
		return nil, err
	}

	entries, err := scheduleEntries(days, start, end)
	if err != nil {
		return nil, err
	}
	slog.Info("calendar fetched", "symbol", symbol, "days", len(days), "entries", len(entries))
	return entries, nil
}

func scheduleEntries(days []alpaca.CalendarDay, start, end time.Time) ([]string, error) {
	open := make(map[calendar.Date]string, len(days))
	for _, day := range days {
		d, err := time.Parse(time.DateOnly, day.Date)
		if err != nil {
			return nil, tradeerr.Wrap(tradeerr.Data, "fetch calendar", errors.Wrapf(err, "calendar date %q", day.Date))
		}
		openAt, err := time.Parse("15:04", day.Open)
		if err != nil {
			return nil, tradeerr.Wrap(tradeerr.Data, "fetch calendar", errors.Wrapf(err, "open time %q", day.Open))
		}
		closeAt, err := time.Parse("15:04", day.Close)
		if err != nil {
			return nil, tradeerr.Wrap(tradeerr.Data, "fetch calendar", errors.Wrapf(err, "close time %q", day.Close))
		}
		date := calendar.DateOf(d)
		open[date] = calendar.FormatOpen(date,
			calendar.Clock{Hour: openAt.Hour(), Minute: openAt.Minute()},
			calendar.Clock{Hour: closeAt.Hour(), Minute: closeAt.Minute()})
	}

	var entries []string
	for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
		date := calendar.DateOf(t)
		if line, ok := open[date]; ok {
			entries = append(entries, line)
			continue
		}
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			entries = append(entries, calendar.FormatClosed(date))
		}
	}
	return entries, nil
}

func (c *Client) live() error {
	if c.closed.Load() {
		return tradeerr.New(tradeerr.Transport, "broker", "connection closed")
	}
	return nil
}

// call runs a blocking SDK request and gives up when ctx ends. The SDK takes no
// context, so an abandoned request finishes in the background.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, tradeerr.Wrap(tradeerr.Transport, op, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return r.v, tradeerr.Wrap(tradeerr.Transport, op, errors.WithStack(r.err))
		}
		return r.v, nil
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
