package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"dailytrader/internal/calendar"
	"dailytrader/internal/logger"
	"dailytrader/internal/metrics"
	"dailytrader/internal/order"
	"dailytrader/internal/risk"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
	"dailytrader/internal/trace"
	"dailytrader/internal/tradeerr"
)

// orderOffset keeps orders one minute inside the session on either side.
const orderOffset = time.Minute

// Conn is one scoped broker connection.
type Conn interface {
	order.Account
	OpenOrders(ctx context.Context) (int, error)
	ExchangeSchedule(ctx context.Context, symbol string) ([]string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

type Config struct {
	SignalSymbol    string
	TradeSymbol     string
	Currency        string
	Preset          calendar.Preset
	Location        *time.Location
	StartingBalance decimal.Decimal
	LoopDelay       time.Duration
	CallTimeout     time.Duration
	LookbackDays    int
	MaxBarAge       time.Duration
	CheckpointPath  string
	// MaxCycles stops Run after that many cycles. Zero runs forever.
	MaxCycles int
}

type Deps struct {
	Dialer   Dialer
	Executor *order.Executor
	Strategy strategy.Strategy
	Gate     risk.Gate
	Store    *state.Store
	Journal  *Journal
	Metrics  *metrics.Metrics
	Clock    Clock
}

type Engine struct {
	cfg      Config
	dialer   Dialer
	exec     *order.Executor
	strategy strategy.Strategy
	gate     risk.Gate
	state    *state.Store
	journal  *Journal
	metrics  *metrics.Metrics
	clock    Clock
	cycle    uint64
}

func New(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		cfg:      cfg,
		dialer:   deps.Dialer,
		exec:     deps.Executor,
		strategy: deps.Strategy,
		gate:     deps.Gate,
		state:    deps.Store,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		clock:    clock,
	}
}

// NewRunID returns a fresh run id and a generator of client order ids scoped to it.
func NewRunID() (string, func() string) {
	runID := uuid.NewString()
	var seq uint64
	return runID, func() string {
		seq++
		return nextClientOrderID(runID, seq)
	}
}

// Run validates the account and then drives cycles until ctx ends, a fatal phase
// error occurs, or MaxCycles is reached.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		logger.ErrorWithErr(ctx, "startup check failed", err)
		return err
	}
	e.publishHoldings()

	for {
		err := e.runCycle(ctx)
		if ctx.Err() != nil {
			e.saveCheckpoint(ctx)
			return ctx.Err()
		}
		if err != nil {
			var pe *PhaseError
			if errors.As(err, &pe) && pe.Fatal() {
				e.saveCheckpoint(ctx)
				return err
			}
		}
		e.saveCheckpoint(ctx)

		if e.cfg.MaxCycles > 0 && e.cycle >= uint64(e.cfg.MaxCycles) {
			logger.Info(ctx, "cycle limit reached", "cycles", e.cycle)
			return nil
		}
		if err := e.clock.Sleep(ctx, e.cfg.LoopDelay); err != nil {
			return err
		}
	}
}

type cycleRun struct {
	phase   Phase
	session *calendar.Session
	delta   *decimal.Decimal
	intent  strategy.Action
	reason  string
}

func (e *Engine) runCycle(ctx context.Context) (err error) {
	e.cycle++
	run := &cycleRun{}
	ctx, span := trace.StartSpan(ctx, "cycle", oteltrace.WithAttributes(attribute.Int64("cycle", int64(e.cycle))))
	defer func() {
		e.finishCycle(ctx, run, err)
		span.End()
	}()

	// Idle: clear stale orders and find the next session.
	var session calendar.Session
	err = e.inPhase(ctx, run, Idle, func(ctx context.Context, conn Conn) error {
		callCtx, cancel := e.callContext(ctx)
		err := conn.CancelAllOpenOrders(callCtx)
		cancel()
		if err != nil {
			return err
		}

		callCtx, cancel = e.callContext(ctx)
		raw, err := conn.ExchangeSchedule(callCtx, e.cfg.TradeSymbol)
		cancel()
		if err != nil {
			return err
		}
		cal, err := calendar.Parse(e.cfg.Preset, e.cfg.Location, raw)
		if err != nil {
			return err
		}
		next, ok := cal.NextSession(e.clock.Now())
		if !ok {
			return tradeerr.New(tradeerr.Data, "next session", "no upcoming session in %d schedule entries", len(raw))
		}
		session = next
		return nil
	})
	if err != nil {
		return err
	}
	run.session = &session
	target := &state.Session{Open: session.Open, Close: session.Close}
	logger.Info(ctx, "next session", "open", session.Open, "close", session.Close)

	// AwaitOpen: the buy goes in one minute after the open.
	e.enter(ctx, run, AwaitOpen, target)
	buyAt := session.Open.Add(orderOffset)
	if now := e.clock.Now(); !buyAt.After(now) {
		return phaseErr(AwaitOpen, tradeerr.New(tradeerr.Data, "await open", "order time %s already passed at %s", buyAt, now))
	}
	logger.Info(ctx, "waiting for open", "until", buyAt)
	if err := sleepUntil(ctx, e.clock, buyAt); err != nil {
		return phaseErr(AwaitOpen, err)
	}

	var bought order.Outcome
	err = e.inPhase(ctx, run, Evaluate, func(ctx context.Context, conn Conn) error {
		callCtx, cancel := e.callContext(ctx)
		bars, err := conn.DailyBars(callCtx, e.cfg.SignalSymbol, e.cfg.LookbackDays)
		cancel()
		if err != nil {
			return err
		}
		delta, used, err := strategy.SignalDelta(strategy.SignalInput{
			Bars:        bars,
			SessionDate: calendar.DateOf(session.Open.In(e.cfg.Location)),
			SessionOpen: session.Open,
			MaxBarAge:   e.cfg.MaxBarAge,
		})
		if err != nil {
			return err
		}
		run.delta = &delta

		snap := e.state.Snapshot()
		intent := e.strategy.Decide(strategy.MarketSnapshot{
			Timestamp:   e.clock.Now(),
			SignalDelta: delta,
			PositionQty: snap.Shares,
		})
		run.intent, run.reason = intent.Action, intent.Reason
		logger.Info(ctx, "signal evaluated", "symbol", e.cfg.SignalSymbol, "delta", delta,
			"from", used[0].Time, "to", used[len(used)-1].Time, "intent", intent.Action, "reason", intent.Reason)
		if intent.Action != strategy.Buy {
			return nil
		}

		bought, err = e.exec.Buy(ctx, conn, e.cfg.TradeSymbol, e.gate.Budget(snap.Balance))
		if err != nil {
			e.metrics.Order("buy", metrics.ResultError)
			return err
		}
		e.metrics.Order("buy", metrics.ResultSuccess)
		e.state.Bought(bought.Cash, bought.Shares)
		e.saveCheckpoint(ctx)
		e.publishHoldings()
		return nil
	})
	if err != nil || run.intent != strategy.Buy {
		return err
	}

	// Holding: capital is committed from here on.
	e.enter(ctx, run, Holding, target)
	sellAt := session.Close.Add(-orderOffset)
	if now := e.clock.Now(); !sellAt.After(now) {
		return phaseErr(Holding, tradeerr.New(tradeerr.Data, "holding", "sell time %s already passed at %s with %s shares held", sellAt, now, bought.Shares))
	}

	e.enter(ctx, run, AwaitClose, target)
	logger.Info(ctx, "holding until close", "until", sellAt, "shares", bought.Shares)
	if err := sleepUntil(ctx, e.clock, sellAt); err != nil {
		return phaseErr(AwaitClose, err)
	}

	return e.inPhase(ctx, run, Settling, func(ctx context.Context, conn Conn) error {
		received, err := e.exec.Sell(ctx, conn, e.cfg.TradeSymbol, bought.Shares)
		if err != nil {
			e.metrics.Order("sell", metrics.ResultError)
			return err
		}
		e.metrics.Order("sell", metrics.ResultSuccess)
		e.state.Sold(received)
		e.saveCheckpoint(ctx)
		e.publishHoldings()
		logger.Info(ctx, "cycle settled", "spent", bought.Cash, "received", received, "pnl", received.Sub(bought.Cash))
		return nil
	})
}

// inPhase runs fn under a span with a connection that is released when fn returns.
func (e *Engine) inPhase(ctx context.Context, run *cycleRun, phase Phase, fn func(ctx context.Context, conn Conn) error) error {
	var target *state.Session
	if run.session != nil {
		target = &state.Session{Open: run.session.Open, Close: run.session.Close}
	}
	e.enter(ctx, run, phase, target)

	ctx, span := trace.StartSpan(ctx, "phase."+phase.String())
	defer span.End()

	conn, err := e.dial(ctx)
	if err != nil {
		return phaseErr(phase, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Warn(ctx, "release connection failed", "phase", phase, "error", cerr)
		}
	}()

	if err := fn(ctx, conn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return phaseErr(phase, err)
	}
	return nil
}

func (e *Engine) enter(ctx context.Context, run *cycleRun, phase Phase, target *state.Session) {
	run.phase = phase
	e.state.SetPhase(phase.String(), target)
	e.metrics.Phase(int(phase))
	logger.Debug(ctx, "phase", "cycle", e.cycle, "phase", phase)
}

func (e *Engine) finishCycle(ctx context.Context, run *cycleRun, err error) {
	rec := Record{
		Cycle:     e.cycle,
		Timestamp: e.clock.Now().UTC(),
		Phase:     run.phase.String(),
		Intent:    run.intent,
		Reason:    run.reason,
	}
	if run.session != nil {
		open := run.session.Open
		rec.SessionOpen = &open
	}
	if run.delta != nil {
		rec.SignalDelta = run.delta.String()
	}

	var pe *PhaseError
	switch {
	case err == nil && run.intent == strategy.Buy:
		rec.Result = metrics.ResultSuccess
	case err == nil:
		rec.Result = metrics.ResultHold
	case ctx.Err() != nil:
		rec.Result = "interrupted"
		rec.Error = err.Error()
	case errors.As(err, &pe) && pe.Fatal():
		rec.Result = metrics.ResultFatal
		rec.Error = err.Error()
		logger.ErrorWithErr(ctx, "fatal cycle failure, manual intervention required", err,
			"phase", run.phase, "kind", tradeerr.KindOf(err).String(), "shares_held", e.state.Snapshot().Shares)
	default:
		rec.Result = metrics.ResultSkipped
		rec.Error = err.Error()
		logger.Warn(ctx, "cycle skipped", "phase", run.phase, "kind", tradeerr.KindOf(err).String(), "error", err)
	}

	e.metrics.Cycle(run.phase.String(), rec.Result)
	e.journal.Append(rec)
	if rec.Result == metrics.ResultFatal {
		// The failed phase stays in the checkpoint.
		return
	}
	e.state.SetPhase(Idle.String(), nil)
	e.metrics.Phase(int(Idle))
}

func (e *Engine) dial(ctx context.Context) (Conn, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return e.dialer.Dial(callCtx)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Engine) saveCheckpoint(ctx context.Context) {
	if e.cfg.CheckpointPath == "" {
		return
	}
	if err := e.state.Save(e.cfg.CheckpointPath); err != nil {
		logger.Warn(ctx, "failed to save checkpoint", "path", e.cfg.CheckpointPath, "error", err)
	}
}

func (e *Engine) publishHoldings() {
	snap := e.state.Snapshot()
	e.metrics.Holdings(snap.Balance, snap.Shares)
}

func nextClientOrderID(runID string, seq uint64) string {
	return runID + "-" + strconv.FormatUint(seq, 10)
}
