package engine

import (
	"context"
	"time"

	"tradesentry/internal/logger"
	"tradesentry/internal/notifier"
	"tradesentry/internal/order"
)

// resolveFillPrice returns the authoritative average fill price for a
// filled order, walking a priority chain:
//
//  1. the polled average fill price,
//  2. the broker's order-history trail,
//  3. a live quote,
//  4. the originally requested price.
//
// Confirmed exposure must never be reported as failure for want of a
// price, so the chain always produces a number; steps 3 and 4 trade
// precision for that guarantee and are surfaced loudly rather than
// silently.
func (e *Engine) resolveFillPrice(ctx context.Context, mo order.ManagedOrder) (price float64, degraded bool) {
	if mo.AvgFillPrice > 0 {
		return mo.AvgFillPrice, false
	}

	if mo.BrokerOrderID != "" {
		trail, err := e.adapter.GetOrderHistory(ctx, mo.BrokerOrderID)
		if err != nil {
			logger.Warnf("order-history price lookup for %s failed: %v", mo.ClientOrderID, err)
		} else {
			for i := len(trail) - 1; i >= 0; i-- {
				if trail[i].AvgFillPrice > 0 {
					return trail[i].AvgFillPrice, false
				}
			}
		}
	}

	req := mo.Request
	if quote, err := e.adapter.GetQuote(ctx, req.Symbol, req.Exchange); err == nil && quote.Last > 0 {
		e.reportDegradedPrice(req.Symbol, mo.ClientOrderID, "live quote", quote.Last)
		return quote.Last, true
	}

	// Every broker-side lookup failed. A MARKET order carries no requested
	// price, so degrade to the order's trigger and then to the trade's own
	// recorded levels before admitting a number at all; booking a literal
	// zero would poison the realized P&L.
	fallback, source := req.Price, "requested price"
	if fallback == 0 && req.TriggerPrice > 0 {
		fallback, source = req.TriggerPrice, "requested trigger price"
	}
	if fallback == 0 {
		if trade := e.sess.CurrentTrade(); trade != nil && trade.Symbol == req.Symbol {
			if trade.StopLoss > 0 {
				fallback, source = trade.StopLoss, "recorded stop level"
			} else if trade.EntryPrice > 0 {
				fallback, source = trade.EntryPrice, "recorded entry price"
			}
		}
	}
	e.reportDegradedPrice(req.Symbol, mo.ClientOrderID, source, fallback)
	return fallback, true
}

func (e *Engine) reportDegradedPrice(symbol, clientOrderID, source string, price float64) {
	logger.Criticalf("fill price for %s (%s) resolved from %s=%.2f, P&L precision degraded",
		symbol, clientOrderID, source, price)
	e.journalEvent("degraded_price", symbol, source)
	e.alert(notifier.StructuredMessage{
		Icon:  "⚠️",
		Title: "Degraded fill price",
		Sections: []notifier.MessageSection{{
			Title: symbol,
			Lines: []string{"source: " + source, "order: " + clientOrderID},
		}},
		Timestamp: time.Now(),
	})
}
