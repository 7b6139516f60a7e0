package broker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// statusPoller turns repeated order lookups into a status stream. An event is
// emitted only when the raw status changes; the stream ends after a terminal one.
type statusPoller struct {
	orderID  string
	interval time.Duration
	fetch    func() (*alpaca.Order, error)

	last string
	done bool
}

func newStatusPoller(c *Client, orderID string) *statusPoller {
	return &statusPoller{
		orderID:  orderID,
		interval: c.pollInterval,
		fetch: func() (*alpaca.Order, error) {
			return c.client.GetOrder(orderID)
		},
	}
}

func (p *statusPoller) Next(ctx context.Context) (StatusEvent, error) {
	if p.done {
		return StatusEvent{}, io.EOF
	}
	for {
		order, err := call(ctx, "get order", p.fetch)
		if err != nil {
			slog.Error("get order failed", "order_id", p.orderID, "error", err)
			return StatusEvent{}, err
		}
		if order.Status != p.last {
			p.last = order.Status
			ev := StatusEvent{OrderID: order.ID, Status: MapStatus(order.Status), Raw: order.Status}
			if ev.Status.Terminal() {
				p.done = true
			}
			return ev, nil
		}
		if err := WaitForContext(ctx, p.interval); err != nil {
			return StatusEvent{}, err
		}
	}
}
