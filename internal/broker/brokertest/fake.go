// Package brokertest provides an in-memory broker connection for tests.
package brokertest

import (
	"context"
	"io"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/md"
)

// Fake is a scripted broker connection. Fills settle at the last bar close of the
// symbol unless FillPrice overrides it. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	Currency  string
	Cash      decimal.Decimal
	Positions map[string]decimal.Decimal
	Bars      map[string][]md.Bar
	Schedule  []string
	FillPrice map[string]decimal.Decimal

	// Script is the status sequence every order reports. Nil means Submitted, Filled.
	Script []broker.OrderStatus
	// StreamErr replaces io.EOF once Script is exhausted.
	StreamErr error
	// NoSettle leaves cash and positions untouched on fill.
	NoSettle bool
	// Hang makes a stream with an exhausted Script wait for its context to end.
	Hang bool
	// FillOnCancel settles orders that are still working when they are cancelled,
	// as when the exchange fills an order the bot gave up on.
	FillOnCancel bool
	// Errs fails the named method ("DailyBars", "CashBalance", ...).
	Errs map[string]error
	// OnCall runs at the start of every method with its name.
	OnCall func(name string)

	Orders       []broker.OrderRequest
	Calls        []string
	OpenOrderCnt int
	Cancels      int
	Closes       int

	working map[string]broker.OrderRequest
}

func New(cash int64) *Fake {
	return &Fake{
		Currency:  "USD",
		Cash:      decimal.NewFromInt(cash),
		Positions: map[string]decimal.Decimal{},
		Bars:      map[string][]md.Bar{},
		FillPrice: map[string]decimal.Decimal{},
		Errs:      map[string]error{},
		working:   map[string]broker.OrderRequest{},
	}
}

func (f *Fake) enter(name string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, name)
	hook := f.OnCall
	err := f.Errs[name]
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return err
}

func (f *Fake) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]md.Bar, error) {
	if err := f.enter("DailyBars"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]md.Bar(nil), f.Bars[symbol]...), nil
}

func (f *Fake) CashBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := f.enter("CashBalance"); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Cash, nil
}

func (f *Fake) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.enter("Position"); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Positions[symbol], nil
}

func (f *Fake) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.StatusStream, error) {
	if err := f.enter("PlaceMarketOrder"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Orders = append(f.Orders, req)
	f.working[req.ClientOrderID] = req
	script := f.Script
	if script == nil {
		script = []broker.OrderStatus{broker.StatusSubmitted, broker.StatusFilled}
	}
	return &stream{fake: f, req: req, script: append([]broker.OrderStatus(nil), script...), tail: f.StreamErr, hang: f.Hang}, nil
}

func (f *Fake) OpenOrders(ctx context.Context) (int, error) {
	if err := f.enter("OpenOrders"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OpenOrderCnt, nil
}

func (f *Fake) CancelAllOpenOrders(ctx context.Context) error {
	if err := f.enter("CancelAllOpenOrders"); err != nil {
		return err
	}
	f.mu.Lock()
	f.Cancels++
	f.OpenOrderCnt = 0
	var filled []broker.OrderRequest
	for id, req := range f.working {
		if f.FillOnCancel {
			filled = append(filled, req)
		}
		delete(f.working, id)
	}
	f.mu.Unlock()

	for _, req := range filled {
		f.settle(req)
	}
	return nil
}

func (f *Fake) ExchangeSchedule(ctx context.Context, symbol string) ([]string, error) {
	if err := f.enter("ExchangeSchedule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Schedule...), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closes++
	return nil
}

// CallCount reports how many times the named method was entered.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *Fake) settle(req broker.OrderRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.working, req.ClientOrderID)
	if f.NoSettle {
		return
	}
	price, ok := f.FillPrice[req.Symbol]
	if !ok {
		bars := f.Bars[req.Symbol]
		if len(bars) > 0 {
			price = bars[len(bars)-1].Close
		}
	}
	notional := price.Mul(req.Qty)
	if req.Side == alpaca.Buy {
		f.Cash = f.Cash.Sub(notional)
		f.Positions[req.Symbol] = f.Positions[req.Symbol].Add(req.Qty)
		return
	}
	f.Cash = f.Cash.Add(notional)
	f.Positions[req.Symbol] = f.Positions[req.Symbol].Sub(req.Qty)
}

type stream struct {
	fake   *Fake
	req    broker.OrderRequest
	script []broker.OrderStatus
	tail   error
	hang   bool
}

func (s *stream) Next(ctx context.Context) (broker.StatusEvent, error) {
	if err := ctx.Err(); err != nil {
		return broker.StatusEvent{}, err
	}
	if len(s.script) == 0 {
		if s.hang {
			<-ctx.Done()
			return broker.StatusEvent{}, ctx.Err()
		}
		if s.tail != nil {
			return broker.StatusEvent{}, s.tail
		}
		return broker.StatusEvent{}, io.EOF
	}
	status := s.script[0]
	s.script = s.script[1:]
	switch {
	case status == broker.StatusFilled:
		s.fake.settle(s.req)
	case status.Terminal():
		s.fake.mu.Lock()
		delete(s.fake.working, s.req.ClientOrderID)
		s.fake.mu.Unlock()
	}
	return broker.StatusEvent{OrderID: "ord-" + s.req.ClientOrderID, Status: status, Raw: string(status)}, nil
}

// Stream returns a bare status stream over statuses followed by tail (io.EOF when nil).
func Stream(tail error, statuses ...broker.OrderStatus) broker.StatusStream {
	return &stream{fake: New(0), req: broker.OrderRequest{ClientOrderID: "test"}, script: statuses, tail: tail}
}
