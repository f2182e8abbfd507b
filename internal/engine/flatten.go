package engine

import (
	"context"
	"fmt"

	"tradesentry/internal/broker"
	"tradesentry/internal/logger"
	"tradesentry/internal/order"

	"github.com/google/uuid"
)

// placeMarketClose submits one market order that offsets positionSide by
// qty. On an insufficient-funds rejection it retries once under the
// fallback product type, since intraday and delivery margin buckets differ
// at the broker.
func (e *Engine) placeMarketClose(ctx context.Context, symbol, exchange string, positionSide broker.Side, qty int) (order.ManagedOrder, error) {
	submit := func(product string) (order.ManagedOrder, error) {
		return e.orders.SendOrder(ctx, broker.OrderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Exchange:      exchange,
			Side:          positionSide.Opposite(),
			Quantity:      qty,
			OrderType:     broker.OrderTypeMarket,
			Product:       product,
			Tag:           "close",
		})
	}
	mo, err := submit(e.product)
	if err != nil {
		return mo, err
	}
	if mo.State == order.StateRejected && isInsufficientFunds(mo.RejectReason) && e.fallbackProduct != "" && e.fallbackProduct != e.product {
		logger.Warnf("close of %s rejected (%s), retrying under product %s", symbol, mo.RejectReason, e.fallbackProduct)
		return submit(e.fallbackProduct)
	}
	return mo, nil
}

// flattenPosition repeatedly market-closes qty of positionSide until the
// full quantity is confirmed filled or the attempt budget runs out. It
// returns the last close order (for fill-price resolution) and whether the
// position is confirmed flat.
func (e *Engine) flattenPosition(ctx context.Context, symbol, exchange string, positionSide broker.Side, qty int) (order.ManagedOrder, bool) {
	remaining := qty
	var lastFill order.ManagedOrder
	for attempt := 1; attempt <= e.flattenAttempts; attempt++ {
		if remaining <= 0 {
			break
		}
		logger.Infof("flatten attempt %d/%d: %s %s x%d", attempt, e.flattenAttempts, symbol, positionSide.Opposite(), remaining)
		mo, err := e.placeMarketClose(ctx, symbol, exchange, positionSide, remaining)
		if err != nil || mo.State == order.StateRejected {
			reason := mo.RejectReason
			if err != nil {
				reason = err.Error()
			}
			logger.Warnf("flatten attempt %d rejected: %s", attempt, reason)
			e.journalEvent("flatten_rejected", symbol, reason)
			e.sess.RecordFlattenFailure()
			e.sleep(ctx, e.retryDelay)
			continue
		}

		final, terminal := e.waitForTerminal(ctx, mo.ClientOrderID, e.fillTimeout)
		if final.Filled() {
			lastFill = final
			remaining -= final.FilledQuantity
		}
		if remaining <= 0 {
			return lastFill, true
		}
		if !terminal {
			// Ambiguous close: cancel and re-poll so the fill count below is
			// trustworthy before the next attempt re-sizes.
			if err := e.orders.CancelOrder(ctx, final.ClientOrderID); err != nil {
				logger.Warnf("cancel of ambiguous close %s failed: %v", final.ClientOrderID, err)
			}
			reconciled, _ := e.waitForTerminal(ctx, final.ClientOrderID, e.reconcileTimeout)
			if reconciled.FilledQuantity > final.FilledQuantity {
				extra := reconciled.FilledQuantity - final.FilledQuantity
				remaining -= extra
				lastFill = reconciled
			}
			if remaining <= 0 {
				return lastFill, true
			}
		}
		e.sess.RecordFlattenFailure()
		e.journalEvent("flatten_incomplete", symbol, fmt.Sprintf("attempt=%d remaining=%d", attempt, remaining))
		e.sleep(ctx, e.retryDelay)
	}
	return lastFill, remaining <= 0
}
