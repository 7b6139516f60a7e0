package engine

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"dailytrader/internal/logger"
	"dailytrader/internal/state"
	"dailytrader/internal/tradeerr"
)

// reconcile checks the account before the first cycle. Any failure is fatal.
func (e *Engine) reconcile(ctx context.Context) error {
	if !e.cfg.StartingBalance.IsPositive() {
		return tradeerr.New(tradeerr.Validation, "startup", "starting balance must be positive, got %s", e.cfg.StartingBalance)
	}

	if e.cfg.CheckpointPath != "" {
		snap, err := state.Load(e.cfg.CheckpointPath)
		switch {
		case err == nil && snap.Shares.IsPositive():
			return tradeerr.New(tradeerr.Inconsistency, "startup",
				"checkpoint %s records %s shares held by run %s in phase %s; close the position and remove the checkpoint",
				e.cfg.CheckpointPath, snap.Shares, snap.RunID, snap.Phase)
		case err == nil:
			logger.Info(ctx, "previous checkpoint is flat", "run_id", snap.RunID, "balance", snap.Balance)
		case !os.IsNotExist(err):
			return errors.Wrapf(err, "read checkpoint %s", e.cfg.CheckpointPath)
		}
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	callCtx, cancel := e.callContext(ctx)
	cash, err := conn.CashBalance(callCtx, e.cfg.Currency)
	cancel()
	if err != nil {
		return err
	}
	if cash.LessThan(e.cfg.StartingBalance) {
		return tradeerr.New(tradeerr.Validation, "startup", "account balance %s less than starting balance %s", cash, e.cfg.StartingBalance)
	}

	callCtx, cancel = e.callContext(ctx)
	open, err := conn.OpenOrders(callCtx)
	cancel()
	if err != nil {
		logger.Warn(ctx, "reconcile open orders failed", "error", err)
	} else if open > 0 {
		logger.Warn(ctx, "open orders found at startup, first cycle cancels them", "count", open)
	}

	callCtx, cancel = e.callContext(ctx)
	position, err := conn.Position(callCtx, e.cfg.TradeSymbol)
	cancel()
	if err != nil {
		logger.Warn(ctx, "reconcile position failed", "symbol", e.cfg.TradeSymbol, "error", err)
	} else if position.IsPositive() {
		logger.Warn(ctx, "account already holds the trade symbol; only shares bought by this run are sold",
			"symbol", e.cfg.TradeSymbol, "qty", position)
	}

	logger.Info(ctx, "startup reconciled", "cash", cash, "starting_balance", e.cfg.StartingBalance, "currency", e.cfg.Currency)
	return nil
}
