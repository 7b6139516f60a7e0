package strategy

// PrevDayUp buys when the signal instrument closed higher on its most recent
// session than on the one before, and only when flat.
type PrevDayUp struct{}

func (PrevDayUp) Decide(snapshot MarketSnapshot) TradeIntent {
	if snapshot.PositionQty.IsPositive() {
		return TradeIntent{Action: Hold, Reason: "position_open"}
	}
	if snapshot.SignalDelta.IsPositive() {
		return TradeIntent{Action: Buy, Reason: "signal_up"}
	}
	return TradeIntent{Action: Hold, Reason: "signal_not_up"}
}
