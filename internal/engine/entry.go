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
	"tradesentry/internal/signal"

	"github.com/google/uuid"
)

// PlaceEntry runs the full entry sequence for a validated decision:
// submit, wait for a terminal fill, reconcile timeouts, then protect or
// flatten any exposure. The returned Result is the only report; exposure
// that could not be managed is flagged via RequiresEmergencyRemediation,
// never hidden inside an ordinary failure.
func (e *Engine) PlaceEntry(ctx context.Context, d signal.Decision) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := signal.Validate(d); err != nil {
		return failure(OutcomeRejected, err)
	}
	if !e.sess.TradingAllowed() {
		return failure(OutcomeRejected, ErrTradingDisabled)
	}
	if e.sess.CurrentTrade() != nil {
		return failure(OutcomeRejected, ErrTradeAlreadyOpen)
	}

	req := e.buildEntryRequest(d)
	e.journalEvent("entry_submit", req.Symbol, fmt.Sprintf("%s %d @ %s", req.Side, req.Quantity, req.OrderType))

	mo, err := e.orders.SendOrder(ctx, req)
	if err != nil {
		return failure(OutcomeRejected, err)
	}
	if mo.State == order.StateRejected {
		// No exposure exists; safe to report failure directly.
		return failure(OutcomeRejected, fmt.Errorf("entry rejected: %s", mo.RejectReason))
	}

	final, terminal := e.waitForTerminal(ctx, mo.ClientOrderID, e.fillTimeout)
	if !terminal {
		return e.reconcileEntryTimeout(ctx, d, final)
	}

	switch final.State {
	case order.StateFilled:
		return e.confirmEntry(ctx, d, final, false)
	case order.StateRejected:
		return failure(OutcomeRejected, fmt.Errorf("entry rejected: %s", final.RejectReason))
	case order.StateCancelled:
		if final.Filled() {
			// Cancelled after a partial execution: same exposure problem as
			// a reconciled timeout.
			return e.settlePartialFill(ctx, d, final)
		}
		return failure(OutcomeNoFill, fmt.Errorf("entry cancelled before any fill"))
	default:
		return failure(OutcomeNoFill, fmt.Errorf("entry ended in unexpected state %s", final.State))
	}
}

func (e *Engine) buildEntryRequest(d signal.Decision) broker.OrderRequest {
	orderType := broker.OrderTypeMarket
	price := 0.0
	if d.Price > 0 {
		orderType = broker.OrderTypeLimit
		price = e.roundToTick(d.Symbol, d.Price)
	}
	return broker.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        d.Symbol,
		Exchange:      d.Exchange,
		Side:          d.BrokerSide(),
		Quantity:      d.Quantity,
		OrderType:     orderType,
		Price:         price,
		Product:       e.product,
		Tag:           "entry",
	}
}

// reconcileEntryTimeout resolves an order that was still live when the fill
// timeout elapsed. A timeout does not imply no fill occurred: the order is
// cancelled best-effort, then re-polled for a bounded window to discover
// its true terminal state before any verdict is reported.
func (e *Engine) reconcileEntryTimeout(ctx context.Context, d signal.Decision, last order.ManagedOrder) Result {
	logger.Warnf("entry %s timed out in state %s, reconciling", last.ClientOrderID, last.State)
	e.journalEvent("entry_reconcile", d.Symbol, string(last.State))

	if err := e.orders.CancelOrder(ctx, last.ClientOrderID); err != nil {
		logger.Warnf("best-effort cancel of %s failed: %v", last.ClientOrderID, err)
	}

	final, terminal := e.waitForTerminal(ctx, last.ClientOrderID, e.reconcileTimeout)
	if !terminal {
		logger.Warnf("entry %s still non-terminal after reconciliation window", final.ClientOrderID)
	}

	if !final.Filled() {
		return failure(OutcomeNoFill, fmt.Errorf("entry timed out with no fill (last state %s)", final.State))
	}
	if final.State == order.StateFilled && final.FilledQuantity >= final.Request.Quantity {
		return e.confirmEntry(ctx, d, final, false)
	}
	return e.settlePartialFill(ctx, d, final)
}

// settlePartialFill applies the configured partial-fill policy to an order
// that executed less than the requested quantity.
func (e *Engine) settlePartialFill(ctx context.Context, d signal.Decision, mo order.ManagedOrder) Result {
	logger.Warnf("entry %s partially filled %d/%d, policy=%s",
		mo.ClientOrderID, mo.FilledQuantity, mo.Request.Quantity, e.partialPolicy)
	e.journalEvent("partial_fill", d.Symbol, fmt.Sprintf("%d/%d policy=%s", mo.FilledQuantity, mo.Request.Quantity, e.partialPolicy))

	if e.partialPolicy == PolicyAttach {
		// confirmEntry already degrades to force-exit behavior when stop
		// placement fails, and to lockdown when flattening fails too.
		return e.confirmEntry(ctx, d, mo, true)
	}

	exitOrd, ok := e.flattenPosition(ctx, d.Symbol, d.Exchange, mo.Request.Side, mo.FilledQuantity)
	if !ok {
		return e.triggerLockdown(d.Symbol,
			fmt.Sprintf("partial fill of %d could not be flattened after %d attempts", mo.FilledQuantity, e.flattenAttempts))
	}
	price, _ := e.resolveFillPrice(ctx, exitOrd)
	logger.Infof("partial fill of %d flattened at %.2f", mo.FilledQuantity, price)
	return Result{
		Success:      true,
		State:        OutcomePartialFilledFlattened,
		FilledQty:    mo.FilledQuantity,
		AvgFillPrice: mo.AvgFillPrice,
		ExitPrice:    price,
		Warning:      fmt.Sprintf("partial fill %d/%d was flattened", mo.FilledQuantity, mo.Request.Quantity),
	}
}

// confirmEntry records the fill as the session trade and attaches the
// protective stop. From here on exposure exists: any failure ends in
// flatten or lockdown.
func (e *Engine) confirmEntry(ctx context.Context, d signal.Decision, mo order.ManagedOrder, partial bool) Result {
	entryPrice, degraded := e.resolveFillPrice(ctx, mo)
	qty := mo.FilledQuantity

	trade := &session.Trade{
		ID:              uuid.NewString(),
		OrderID:         mo.ClientOrderID,
		Symbol:          d.Symbol,
		Exchange:        d.Exchange,
		Side:            mo.Request.Side,
		Qty:             qty,
		EntryPrice:      entryPrice,
		EntryTime:       time.Now(),
		StopLoss:        e.stopLevelFor(d, mo.Request.Side, entryPrice),
		Target:          d.Target,
		StopOrderStatus: session.StopNone,
	}
	e.sess.SetTrade(trade)

	if err := e.attachProtectiveStop(ctx, trade); err != nil {
		logger.Errorf("stop placement for %s failed: %v, flattening", d.Symbol, err)
		e.journalEvent("stop_failed", d.Symbol, err.Error())
		exitOrd, ok := e.flattenPosition(ctx, d.Symbol, d.Exchange, trade.Side, qty)
		if !ok {
			return e.triggerLockdown(d.Symbol,
				fmt.Sprintf("stop placement failed and %d flatten attempts failed with %d filled", e.flattenAttempts, qty))
		}
		e.sess.ClearTrade()
		exitPrice, _ := e.resolveFillPrice(ctx, exitOrd)
		state := OutcomeFilledFlattenedAfterStopFailure
		if partial {
			state = OutcomePartialFilledFlattened
		}
		return Result{
			Success:      true,
			State:        state,
			FilledQty:    qty,
			AvgFillPrice: entryPrice,
			ExitPrice:    exitPrice,
			Warning:      "protective stop could not be placed; position was flattened",
		}
	}

	state := OutcomeFilledProtected
	if partial {
		state = OutcomePartialFilledProtected
	}
	warning := ""
	if degraded {
		warning = "entry price resolved from a degraded source"
	}
	logger.Infof("entry confirmed: %s %s %d @ %.2f, stop %s at %.2f",
		trade.Side, trade.Symbol, qty, entryPrice, trade.StopOrderID, trade.StopLoss)
	e.alert(notifier.StructuredMessage{
		Icon:  "✅",
		Title: "Entry filled",
		Sections: []notifier.MessageSection{{
			Title: trade.Symbol,
			Lines: []string{
				fmt.Sprintf("%s %d @ %.2f", trade.Side, qty, entryPrice),
				fmt.Sprintf("stop %.2f", trade.StopLoss),
			},
		}},
		Timestamp: time.Now(),
	})
	return Result{
		Success:      true,
		State:        state,
		FilledQty:    qty,
		AvgFillPrice: entryPrice,
		Warning:      warning,
	}
}

// stopLevelFor picks the protective stop level: the decision's explicit
// level when given, otherwise the configured default distance from entry.
func (e *Engine) stopLevelFor(d signal.Decision, side broker.Side, entryPrice float64) float64 {
	if d.StopLoss > 0 {
		return d.StopLoss
	}
	pct := e.defaultStopPct
	if pct <= 0 {
		pct = 0.01
	}
	if side == broker.SideBuy {
		return entryPrice * (1 - pct)
	}
	return entryPrice * (1 + pct)
}
