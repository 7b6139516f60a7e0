// Package order performs buys and sells as single checked operations: preconditions,
// sizing, submission, fill-await and a balance check once the fill is reported.
package order

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/md"
	"dailytrader/internal/risk"
	"dailytrader/internal/tradeerr"
)

// PriceBarCount is how many daily bars a buy fetches to price the order.
const PriceBarCount = 2

// ErrCommitted marks failures that happen after the broker reported a fill. Money
// has moved, so callers must not treat these as skippable.
var ErrCommitted = errors.New("order committed")

type committedError struct {
	err error
}

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }
func (e *committedError) Is(target error) bool {
	return target == ErrCommitted
}

func committed(err error) error {
	return &committedError{err: err}
}

// Account is the slice of a broker connection the executor needs.
type Account interface {
	DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]md.Bar, error)
	CashBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	Position(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.StatusStream, error)
	CancelAllOpenOrders(ctx context.Context) error
}

type Config struct {
	Currency     string
	LookbackDays int
	CallTimeout  time.Duration
	FillTimeout  time.Duration
}

// Outcome is what a buy spent and acquired.
type Outcome struct {
	Cash   decimal.Decimal
	Shares decimal.Decimal
}

type Executor struct {
	cfg    Config
	gate   risk.Gate
	nextID func() string
}

// NewExecutor builds an executor. nextID supplies client order ids.
func NewExecutor(cfg Config, gate risk.Gate, nextID func() string) *Executor {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Executor{cfg: cfg, gate: gate, nextID: nextID}
}

func (e *Executor) Buy(ctx context.Context, acct Account, symbol string, amount decimal.Decimal) (Outcome, error) {
	if err := e.gate.CheckBuyAmount(amount); err != nil {
		return Outcome{}, err
	}
	before, err := e.cash(ctx, acct)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.gate.CheckFunds(amount, before); err != nil {
		return Outcome{}, err
	}
	if err := e.gate.CheckOrdersAllowed("buy"); err != nil {
		return Outcome{}, err
	}

	callCtx, cancel := e.callContext(ctx)
	bars, err := acct.DailyBars(callCtx, symbol, e.cfg.LookbackDays)
	cancel()
	if err != nil {
		return Outcome{}, err
	}
	recent, err := md.LastN(bars, PriceBarCount)
	if err != nil {
		return Outcome{}, err
	}
	lastClose := recent[len(recent)-1].Close
	if !lastClose.IsPositive() {
		return Outcome{}, tradeerr.New(tradeerr.Data, "buy", "last close for %s is %s", symbol, lastClose)
	}
	shares := amount.Div(lastClose).Floor()
	if !shares.IsPositive() {
		slog.Info("risk rejected", "reason", "amount_below_price", "amount", amount, "last_close", lastClose)
		return Outcome{}, tradeerr.New(tradeerr.Validation, "buy", "amount %s buys no shares at %s", amount, lastClose)
	}

	ref, err := e.submit(ctx, acct, symbol, shares, alpaca.Buy)
	if err != nil {
		return Outcome{}, err
	}

	after, err := e.cash(ctx, acct)
	if err != nil {
		return Outcome{}, committed(errors.Wrapf(err, "order %s filled", ref))
	}
	change := before.Sub(after)
	if !change.IsPositive() {
		slog.Error("inconsistent fill", "side", "buy", "order", ref, "before", before, "after", after)
		return Outcome{}, committed(tradeerr.New(tradeerr.Inconsistency, "buy",
			"order %s filled but balance went from %s to %s", ref, before, after))
	}

	slog.Info("buy complete", "symbol", symbol, "shares", shares, "spent", change, "last_close", lastClose)
	return Outcome{Cash: change, Shares: shares}, nil
}

// Sell disposes of qty shares and returns the cash received.
func (e *Executor) Sell(ctx context.Context, acct Account, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	if err := e.gate.CheckSellQty(qty); err != nil {
		return decimal.Zero, err
	}
	callCtx, cancel := e.callContext(ctx)
	position, err := acct.Position(callCtx, symbol)
	cancel()
	if err != nil {
		return decimal.Zero, err
	}
	if err := e.gate.CheckShares(qty, position); err != nil {
		return decimal.Zero, err
	}
	before, err := e.cash(ctx, acct)
	if err != nil {
		return decimal.Zero, err
	}

	ref, err := e.submit(ctx, acct, symbol, qty, alpaca.Sell)
	if err != nil {
		return decimal.Zero, err
	}

	after, err := e.cash(ctx, acct)
	if err != nil {
		return decimal.Zero, committed(errors.Wrapf(err, "order %s filled", ref))
	}
	change := after.Sub(before)
	if !change.IsPositive() {
		slog.Error("inconsistent fill", "side", "sell", "order", ref, "before", before, "after", after)
		return decimal.Zero, committed(tradeerr.New(tradeerr.Inconsistency, "sell",
			"order %s filled but balance went from %s to %s", ref, before, after))
	}

	slog.Info("sell complete", "symbol", symbol, "shares", qty, "received", change)
	return change, nil
}

func (e *Executor) submit(ctx context.Context, acct Account, symbol string, qty decimal.Decimal, side alpaca.Side) (string, error) {
	ref := e.nextID()
	req := broker.OrderRequest{Symbol: symbol, Qty: qty, Side: side, ClientOrderID: ref}

	callCtx, cancel := e.callContext(ctx)
	held, err := acct.Position(callCtx, symbol)
	cancel()
	if err != nil {
		return ref, err
	}

	callCtx, cancel = e.callContext(ctx)
	stream, err := acct.PlaceMarketOrder(callCtx, req)
	cancel()
	if err != nil {
		return ref, err
	}

	fillCtx := ctx
	if e.cfg.FillTimeout > 0 {
		var cancelFill context.CancelFunc
		fillCtx, cancelFill = context.WithTimeout(ctx, e.cfg.FillTimeout)
		defer cancelFill()
	}
	err = AwaitFill(fillCtx, ref, stream)
	if err == nil {
		return ref, nil
	}
	if ctx.Err() != nil || fillCtx.Err() == nil {
		return ref, err
	}
	return ref, e.abandon(ctx, acct, ref, symbol, held, err)
}

// abandon cancels an order whose fill was not reported in time and checks whether it
// executed anyway. A moved position means money moved, so the failure is committed.
func (e *Executor) abandon(ctx context.Context, acct Account, ref, symbol string, held decimal.Decimal, cause error) error {
	slog.Warn("fill not reported in time, cancelling", "order", ref, "symbol", symbol, "timeout", e.cfg.FillTimeout)

	callCtx, cancel := e.callContext(ctx)
	cancelErr := acct.CancelAllOpenOrders(callCtx)
	cancel()
	if cancelErr != nil {
		slog.Error("cancel after fill timeout failed", "order", ref, "error", cancelErr)
	}

	callCtx, cancel = e.callContext(ctx)
	now, err := acct.Position(callCtx, symbol)
	cancel()
	if err != nil {
		return committed(errors.Wrapf(cause, "order %s outcome unknown: %v", ref, err))
	}
	if !now.Equal(held) {
		slog.Error("order executed after fill timeout", "order", ref, "symbol", symbol, "before", held, "after", now)
		return committed(errors.Wrapf(cause, "order %s executed after timeout, position %s -> %s", ref, held, now))
	}
	if cancelErr != nil {
		return committed(errors.Wrapf(cause, "order %s may still be working: %v", ref, cancelErr))
	}
	return cause
}

func (e *Executor) cash(ctx context.Context, acct Account) (decimal.Decimal, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return acct.CashBalance(callCtx, e.cfg.Currency)
}

func (e *Executor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}
