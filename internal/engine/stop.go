package engine

import (
	"context"
	"fmt"
	"time"

	"tradesentry/internal/broker"
	"tradesentry/internal/logger"
	"tradesentry/internal/order"
	"tradesentry/internal/session"

	"github.com/google/uuid"
)

// attachProtectiveStop places a broker-native stop order on the opposite
// side of the trade. The trigger sits on the instrument tick grid; the
// limit price carries a few ticks of buffer in the exit direction, for
// brokers that only accept limit-style stops. Placement is retried a fixed
// number of times before the caller falls back to flattening.
func (e *Engine) attachProtectiveStop(ctx context.Context, trade *session.Trade) error {
	if trade.StopLoss <= 0 {
		return fmt.Errorf("no stop level for %s", trade.Symbol)
	}
	trigger := e.roundToTick(trade.Symbol, trade.StopLoss)
	// Exit direction: a long position stops out with a SELL below trigger,
	// a short with a BUY above.
	buffer := -e.stopBufferTicks
	if trade.Side == broker.SideSell {
		buffer = e.stopBufferTicks
	}
	limit := e.offsetTicks(trade.Symbol, trigger, buffer)

	req := broker.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        trade.Symbol,
		Exchange:      trade.Exchange,
		Side:          trade.Side.Opposite(),
		Quantity:      trade.Qty,
		OrderType:     broker.OrderTypeStopLimit,
		Price:         limit,
		TriggerPrice:  trigger,
		Product:       e.product,
		Tag:           "stop",
	}

	var lastReason string
	for attempt := 1; attempt <= e.stopAttempts; attempt++ {
		if attempt > 1 {
			req.ClientOrderID = uuid.NewString()
			e.sleep(ctx, e.retryDelay)
		}
		mo, err := e.orders.SendOrder(ctx, req)
		if err != nil {
			lastReason = err.Error()
			continue
		}
		if mo.State == order.StateRejected {
			lastReason = mo.RejectReason
			logger.Warnf("stop placement attempt %d/%d rejected: %s", attempt, e.stopAttempts, lastReason)
			continue
		}
		e.sess.UpdateTrade(func(t *session.Trade) {
			t.StopOrderID = mo.ClientOrderID
			t.StopOrderStatus = session.StopOpen
		})
		trade.StopOrderID = mo.ClientOrderID
		trade.StopOrderStatus = session.StopOpen
		logger.Infof("protective stop for %s placed: trigger %.2f limit %.2f", trade.Symbol, trigger, limit)
		e.journalEvent("stop_placed", trade.Symbol, fmt.Sprintf("trigger=%.2f limit=%.2f", trigger, limit))
		return nil
	}
	return fmt.Errorf("stop placement failed after %d attempts: %s", e.stopAttempts, lastReason)
}

// MonitorProtectiveStop polls the protective stop's broker status once. A
// filled stop finalizes the trade with the stop's own fill data. A stop
// that died while the position is still open is an invalidation and forces
// a market exit of the entire position.
func (e *Engine) MonitorProtectiveStop(ctx context.Context) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	trade := e.sess.CurrentTrade()
	if trade == nil {
		return failure(OutcomeNoTrade, ErrNoOpenTrade)
	}
	if trade.StopOrderID == "" || trade.StopOrderStatus != session.StopOpen {
		return Result{Success: true, State: OutcomeStopActive, Warning: "no active stop to monitor"}
	}

	mo, err := e.orders.PollStatus(ctx, trade.StopOrderID)
	if err != nil {
		logger.Warnf("stop poll for %s failed: %v", trade.Symbol, err)
		return Result{Success: true, State: OutcomeStopActive, Warning: "stop poll failed, will retry"}
	}

	switch mo.State {
	case order.StateFilled:
		e.sess.UpdateTrade(func(t *session.Trade) { t.StopOrderStatus = session.StopFilled })
		price, _ := e.resolveFillPrice(ctx, mo)
		logger.Infof("protective stop for %s filled at %.2f", trade.Symbol, price)
		return e.finalizeTrade(ctx, trade, price, "stop_loss_hit", OutcomeStopFilled)
	case order.StateRejected, order.StateCancelled:
		return e.handleStopInvalidation(ctx, trade, mo)
	default:
		return Result{Success: true, State: OutcomeStopActive}
	}
}

// handleStopInvalidation reacts to a stop that was rejected or cancelled
// out from under an open position: the position is no longer protected, so
// it is closed immediately at market.
func (e *Engine) handleStopInvalidation(ctx context.Context, trade *session.Trade, stopOrd order.ManagedOrder) Result {
	logger.Errorf("protective stop for %s invalidated (state %s), forcing exit", trade.Symbol, stopOrd.State)
	e.journalEvent("stop_invalidated", trade.Symbol, string(stopOrd.State))
	e.sess.UpdateTrade(func(t *session.Trade) {
		t.StopOrderStatus = session.StopCancelled
		if stopOrd.State == order.StateRejected {
			t.StopOrderStatus = session.StopRejected
		}
	})

	qty := e.brokerOpenQuantity(ctx, trade)
	if qty == 0 {
		// Broker says flat despite the dead stop: nothing left to protect.
		price, _ := e.resolveFillPrice(ctx, stopOrd)
		if price == 0 {
			price = trade.EntryPrice
		}
		return e.finalizeTrade(ctx, trade, price, "stop_invalidated_already_flat", OutcomeStopInvalidatedExited)
	}
	if qty < 0 {
		qty = trade.Qty
	}

	exitOrd, ok := e.flattenPosition(ctx, trade.Symbol, trade.Exchange, trade.Side, qty)
	if !ok {
		return e.triggerLockdown(trade.Symbol,
			fmt.Sprintf("stop invalidated and %d flatten attempts failed with %d open", e.flattenAttempts, qty))
	}
	price, _ := e.resolveFillPrice(ctx, exitOrd)
	return e.finalizeTrade(ctx, trade, price, "stop_invalidated_forced_exit", OutcomeStopInvalidatedExited)
}

// cancelStopAndConfirm cancels the protective stop and polls the broker's
// open-orders list until the stop is gone or terminal. Returning an error
// means the stop may still be live; the caller must not proceed with a
// manual close.
func (e *Engine) cancelStopAndConfirm(ctx context.Context, trade *session.Trade) error {
	if trade.StopOrderID == "" || trade.StopOrderStatus != session.StopOpen {
		return nil
	}
	stopOrd, ok := e.orders.Get(trade.StopOrderID)
	if !ok {
		return fmt.Errorf("stop order %s not in local table", trade.StopOrderID)
	}
	if stopOrd.State.Terminal() {
		return nil
	}
	if err := e.orders.CancelOrder(ctx, trade.StopOrderID); err != nil {
		logger.Warnf("stop cancel request for %s failed: %v", trade.Symbol, err)
	}

	deadline := time.Now().Add(e.stopCancelWindow)
	for time.Now().Before(deadline) {
		mo, err := e.orders.PollStatus(ctx, trade.StopOrderID)
		if err == nil && mo.State.Terminal() {
			if mo.State == order.StateFilled {
				e.sess.UpdateTrade(func(t *session.Trade) { t.StopOrderStatus = session.StopFilled })
			} else {
				e.sess.UpdateTrade(func(t *session.Trade) { t.StopOrderStatus = session.StopCancelled })
			}
			return nil
		}
		open, err := e.adapter.GetOpenOrders(ctx)
		if err == nil && !containsOrder(open, stopOrd.BrokerOrderID) {
			e.sess.UpdateTrade(func(t *session.Trade) { t.StopOrderStatus = session.StopCancelled })
			return nil
		}
		e.sleep(ctx, e.pollInterval)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("stop cancellation for %s not confirmed within %s", trade.Symbol, e.stopCancelWindow)
}

// stopStillOpen checks the broker's open-orders list for the protective
// stop, used by the post-close invariant.
func (e *Engine) stopStillOpen(ctx context.Context, trade *session.Trade) (bool, error) {
	if trade.StopOrderID == "" {
		return false, nil
	}
	stopOrd, ok := e.orders.Get(trade.StopOrderID)
	if !ok || stopOrd.BrokerOrderID == "" {
		return false, nil
	}
	open, err := e.adapter.GetOpenOrders(ctx)
	if err != nil {
		return false, err
	}
	return containsOrder(open, stopOrd.BrokerOrderID), nil
}

func containsOrder(open []broker.OpenOrder, brokerOrderID string) bool {
	if brokerOrderID == "" {
		return false
	}
	for _, o := range open {
		if o.OrderID == brokerOrderID {
			return true
		}
	}
	return false
}
