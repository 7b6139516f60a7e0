package order

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"dailytrader/internal/broker"
	"dailytrader/internal/tradeerr"
)

// AwaitFill consumes stream until the order reaches a terminal state. It returns nil
// only for Filled. Unknown statuses leave the state unchanged. There are no retries.
func AwaitFill(ctx context.Context, orderRef string, stream broker.StatusStream) error {
	state := broker.StatusPending
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			slog.Error("order stream ended", "order", orderRef, "state", state)
			return tradeerr.New(tradeerr.Transport, "await fill", "order %s: stream ended unexpectedly in state %s", orderRef, state)
		}
		if err != nil {
			slog.Error("order stream failed", "order", orderRef, "state", state, "error", err)
			return tradeerr.Wrap(tradeerr.Transport, "await fill", errors.Wrapf(err, "order %s", orderRef))
		}

		switch ev.Status {
		case broker.StatusFilled:
			slog.Info("order filled", "order", orderRef, "order_id", ev.OrderID)
			return nil
		case broker.StatusCancelled, broker.StatusApiCancelled:
			slog.Warn("order cancelled", "order", orderRef, "order_id", ev.OrderID, "status", ev.Status, "raw", ev.Raw)
			return tradeerr.New(tradeerr.Transport, "await fill", "order %s %s by broker (%s)", orderRef, ev.Status, ev.Raw)
		case broker.StatusInactive, broker.StatusPreSubmitted, broker.StatusSubmitted:
			state = ev.Status
			slog.Info("order status", "order", orderRef, "status", state)
		default:
			slog.Warn("unknown order status", "order", orderRef, "status", ev.Status, "state", state)
		}
	}
}
