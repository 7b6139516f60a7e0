package broker

import (
	"context"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          alpaca.Side
	ClientOrderID string
}

// OrderStatus is the fill-await vocabulary. Provider statuses are mapped onto it;
// anything unmapped is carried through verbatim and treated as non-terminal.
type OrderStatus string

const (
	StatusPending      OrderStatus = "Pending"
	StatusInactive     OrderStatus = "Inactive"
	StatusPreSubmitted OrderStatus = "PreSubmitted"
	StatusSubmitted    OrderStatus = "Submitted"
	StatusFilled       OrderStatus = "Filled"
	StatusCancelled    OrderStatus = "Cancelled"
	StatusApiCancelled OrderStatus = "ApiCancelled"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusApiCancelled:
		return true
	default:
		return false
	}
}

type StatusEvent struct {
	OrderID string
	Status  OrderStatus
	Raw     string
}

// StatusStream yields status events for one order in delivery order. Next returns
// io.EOF once the stream has ended.
type StatusStream interface {
	Next(ctx context.Context) (StatusEvent, error)
}

// MapStatus translates an alpaca order status.
func MapStatus(raw string) OrderStatus {
	switch raw {
	case "pending_new", "accepted", "accepted_for_bidding":
		return StatusPreSubmitted
	case "new", "partially_filled", "pending_replace", "replaced", "calculated":
		return StatusSubmitted
	case "filled":
		return StatusFilled
	case "canceled", "expired", "rejected", "pending_cancel":
		return StatusCancelled
	case "suspended", "stopped", "held", "done_for_day":
		return StatusInactive
	default:
		return OrderStatus(raw)
	}
}
