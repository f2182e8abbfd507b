package engine

import (
	"context"
	"fmt"
	"time"

	"tradesentry/internal/broker"
	"tradesentry/internal/logger"
	"tradesentry/internal/notifier"
	"tradesentry/internal/order"
	"tradesentry/internal/session"
	"tradesentry/internal/store/gormstore"
)

// ExitCurrentTrade closes the session's open position. The broker's live
// position, not local bookkeeping, decides what actually gets closed; the
// protective stop is always cancelled and confirmed gone before a manual
// close is attempted, because a pending stop can make the broker reject a
// close on the same position. Finalization only happens once the post-close
// invariant holds: broker quantity zero and stop confirmed not open.
func (e *Engine) ExitCurrentTrade(ctx context.Context, exitPriceHint float64, reasonOverride string) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	trade := e.sess.CurrentTrade()
	if trade == nil {
		return failure(OutcomeNoTrade, ErrNoOpenTrade)
	}
	reason := reasonOverride
	if reason == "" {
		reason = "manual_exit"
	}

	if err := e.cancelStopAndConfirm(ctx, trade); err != nil {
		e.sess.MarkExitPendingRecovery()
		e.journalEvent("exit_halted", trade.Symbol, err.Error())
		logger.Errorf("exit of %s halted: %v", trade.Symbol, err)
		e.alertExitPendingRecovery(trade.Symbol, "stop cancellation unconfirmed: "+err.Error())
		return failure(OutcomeExitPendingRecovery, fmt.Errorf("cannot confirm stop cancellation: %w", err))
	}
	// cancelStopAndConfirm may have discovered the stop filled; re-read.
	trade = e.sess.CurrentTrade()
	if trade == nil {
		return failure(OutcomeNoTrade, ErrNoOpenTrade)
	}

	openQty := e.brokerOpenQuantity(ctx, trade)
	if openQty < 0 {
		return failure(OutcomeExitRetryRequired, fmt.Errorf("broker position lookup failed: %w", ErrExitUnconfirmed))
	}
	if openQty == 0 {
		// The protective stop already closed the position. Finalize from the
		// stop's own fill data instead of sending a redundant market order.
		price := e.stopFillPrice(ctx, trade, exitPriceHint)
		logger.Infof("%s already flat at broker, finalizing from stop fill at %.2f", trade.Symbol, price)
		return e.finalizeTrade(ctx, trade, price, "stop_loss_hit", OutcomeAlreadyFlatByStop)
	}

	mo, err := e.placeMarketClose(ctx, trade.Symbol, trade.Exchange, trade.Side, openQty)
	if err != nil {
		return failure(OutcomeExitRetryRequired, fmt.Errorf("close submission failed: %v: %w", err, ErrExitUnconfirmed))
	}
	if mo.State == order.StateRejected {
		return failure(OutcomeExitRetryRequired, fmt.Errorf("close rejected: %s: %w", mo.RejectReason, ErrExitUnconfirmed))
	}

	final, _ := e.waitForTerminal(ctx, mo.ClientOrderID, e.fillTimeout)
	if final.State != order.StateFilled {
		// The close's fate is unknown; do not finalize, the caller retries
		// and the next pass re-reads the broker's position.
		e.journalEvent("exit_unconfirmed", trade.Symbol, string(final.State))
		return failure(OutcomeExitRetryRequired,
			fmt.Errorf("close order ended in state %s: %w", final.State, ErrExitUnconfirmed))
	}

	if err := e.checkPostCloseInvariant(ctx, trade); err != nil {
		e.sess.MarkExitPendingRecovery()
		e.journalEvent("post_close_invariant_failed", trade.Symbol, err.Error())
		logger.Errorf("post-close invariant for %s failed: %v", trade.Symbol, err)
		e.alertExitPendingRecovery(trade.Symbol, "post-close invariant failed: "+err.Error())
		return failure(OutcomePostCloseInvariantFailed, err)
	}

	exitPrice, _ := e.resolveFillPrice(ctx, final)
	if exitPrice == 0 {
		exitPrice = exitPriceHint
	}
	return e.finalizeTrade(ctx, trade, exitPrice, reason, OutcomeExited)
}

func (e *Engine) alertExitPendingRecovery(symbol, detail string) {
	e.alert(notifier.StructuredMessage{
		Icon:  "⚠️",
		Title: "Exit pending recovery",
		Sections: []notifier.MessageSection{{
			Title: symbol,
			Lines: []string{detail, "retry the exit; the position stays recorded open"},
		}},
		Timestamp: time.Now(),
	})
}

// brokerOpenQuantity returns the broker's open quantity for the trade's
// symbol in the trade's direction: 0 means flat, -1 means the lookup
// failed.
func (e *Engine) brokerOpenQuantity(ctx context.Context, trade *session.Trade) int {
	positions, err := e.adapter.GetPositions(ctx)
	if err != nil {
		logger.Warnf("position lookup for %s failed: %v", trade.Symbol, err)
		return -1
	}
	for _, p := range positions {
		if p.Symbol != trade.Symbol {
			continue
		}
		if trade.Side == broker.SideBuy && p.Quantity > 0 {
			return p.Quantity
		}
		if trade.Side == broker.SideSell && p.Quantity < 0 {
			return -p.Quantity
		}
		return 0
	}
	return 0
}

// stopFillPrice resolves the exit price from the stop order's fill data,
// degrading to the caller's hint and finally the stop level itself.
func (e *Engine) stopFillPrice(ctx context.Context, trade *session.Trade, hint float64) float64 {
	if trade.StopOrderID != "" {
		if stopOrd, ok := e.orders.Get(trade.StopOrderID); ok {
			if price, _ := e.resolveFillPrice(ctx, stopOrd); price > 0 {
				return price
			}
		}
	}
	if hint > 0 {
		return hint
	}
	return trade.StopLoss
}

// checkPostCloseInvariant confirms the broker shows zero open quantity and
// no live protective stop. Any doubt fails the check; finalization must
// never race a position that might still exist.
func (e *Engine) checkPostCloseInvariant(ctx context.Context, trade *session.Trade) error {
	openQty := e.brokerOpenQuantity(ctx, trade)
	if openQty < 0 {
		return fmt.Errorf("cannot verify broker position after close")
	}
	if openQty != 0 {
		return fmt.Errorf("broker still reports %d open after close fill", openQty)
	}
	stopOpen, err := e.stopStillOpen(ctx, trade)
	if err != nil {
		return fmt.Errorf("cannot verify stop order state: %v", err)
	}
	if stopOpen {
		return fmt.Errorf("protective stop still open after close fill")
	}
	return nil
}

// finalizeTrade books the settled trade: realized P&L, risk-state update,
// history append, session cleanup. Only invariant-checked paths call this.
func (e *Engine) finalizeTrade(ctx context.Context, trade *session.Trade, exitPrice float64, reason string, outcome Outcome) Result {
	pnl := (exitPrice - trade.EntryPrice) * float64(trade.Qty)
	if trade.Side == broker.SideSell {
		pnl = -pnl
	}
	now := time.Now()

	adjusted := pnl
	if e.riskEng != nil {
		verdict := e.riskEng.EvaluatePostExit(e.sess, pnl, now)
		adjusted = verdict.AdjustedPnL
		e.sess.ApplyRiskState(verdict.RealizedPnL, verdict.TradesToday, verdict.LockedOut)
	}

	if e.history != nil {
		rec := gormstore.SettledTrade{
			TradeID:    trade.ID,
			Symbol:     trade.Symbol,
			Exchange:   trade.Exchange,
			Side:       string(trade.Side),
			Qty:        trade.Qty,
			EntryPrice: trade.EntryPrice,
			EntryTime:  trade.EntryTime,
			ExitPrice:  exitPrice,
			ExitTime:   now,
			PnL:        pnl,
			RiskAdjPnL: adjusted,
			ExitReason: reason,
		}
		if err := e.history.AppendTrade(ctx, rec); err != nil {
			// The position is flat; a ledger write failure must not resurrect
			// it. Log loudly and move on.
			logger.Errorf("appending settled trade %s failed: %v", trade.ID, err)
		}
	}

	e.sess.ClearTrade()
	e.sess.ClearExitPendingRecovery()
	e.journalEvent("trade_settled", trade.Symbol, fmt.Sprintf("reason=%s pnl=%.2f", reason, pnl))
	logger.Infof("trade %s settled: %s exit at %.2f, pnl %.2f (%s)", trade.ID, trade.Symbol, exitPrice, pnl, reason)
	e.alert(notifier.StructuredMessage{
		Icon:  "🏁",
		Title: "Trade closed",
		Sections: []notifier.MessageSection{{
			Title: trade.Symbol,
			Lines: []string{
				fmt.Sprintf("%s %d: %.2f -> %.2f", trade.Side, trade.Qty, trade.EntryPrice, exitPrice),
				fmt.Sprintf("pnl %.2f (%s)", pnl, reason),
			},
		}},
		Timestamp: now,
	})
	return Result{
		Success:   true,
		State:     outcome,
		FilledQty: trade.Qty,
		ExitPrice: exitPrice,
		PnL:       pnl,
	}
}
