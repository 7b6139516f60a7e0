package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
)

type MarketSnapshot struct {
	Timestamp   time.Time
	SignalDelta decimal.Decimal
	PositionQty decimal.Decimal
}

type TradeIntent struct {
	Action Action
	Reason string
}

type Strategy interface {
	Decide(snapshot MarketSnapshot) TradeIntent
}
