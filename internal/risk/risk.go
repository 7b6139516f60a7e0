package risk

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"dailytrader/internal/tradeerr"
)

type Gate struct {
	KillSwitch bool
	// MaxNotional caps the cash committed per cycle. Zero means no cap.
	MaxNotional decimal.Decimal
}

// Budget is the cash a cycle may commit given the running balance estimate.
func (g Gate) Budget(balance decimal.Decimal) decimal.Decimal {
	if g.MaxNotional.IsPositive() && balance.GreaterThan(g.MaxNotional) {
		return g.MaxNotional
	}
	return balance
}

func (g Gate) CheckBuyAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		slog.Info("risk rejected", "reason", "invalid_amount", "amount", amount)
		return tradeerr.New(tradeerr.Validation, "buy", "amount must be positive, got %s", amount)
	}
	return nil
}

func (g Gate) CheckFunds(amount, cash decimal.Decimal) error {
	if cash.LessThan(amount) {
		slog.Info("risk rejected", "reason", "insufficient_funds", "amount", amount, "cash", cash)
		return tradeerr.New(tradeerr.Validation, "buy", "account balance %s less than buy amount %s", cash, amount)
	}
	return nil
}

func (g Gate) CheckSellQty(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		slog.Info("risk rejected", "reason", "invalid_quantity", "qty", qty)
		return tradeerr.New(tradeerr.Validation, "sell", "share amount must be positive, got %s", qty)
	}
	return nil
}

func (g Gate) CheckShares(qty, position decimal.Decimal) error {
	if position.LessThan(qty) {
		slog.Info("risk rejected", "reason", "insufficient_shares", "qty", qty, "position", position)
		return tradeerr.New(tradeerr.Validation, "sell", "position %s less than sell amount %s", position, qty)
	}
	return nil
}

// CheckOrdersAllowed blocks order placement while the kill switch is on.
func (g Gate) CheckOrdersAllowed(side string) error {
	if g.KillSwitch {
		slog.Info("risk rejected", "reason", "kill_switch_enabled", "side", side)
		return tradeerr.New(tradeerr.Validation, side, "kill switch enabled")
	}
	return nil
}
