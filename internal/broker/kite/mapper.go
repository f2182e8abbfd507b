package kite

import (
	"strings"

	"tradesentry/internal/broker"

	"github.com/tidwall/gjson"
)

// statusTable is the single place that understands this broker's order
// status vocabulary. Anything unlisted maps to StatusUnknown and is treated
// as non-terminal by callers.
var statusTable = map[string]broker.Status{
	"OPEN":                   broker.StatusOpen,
	"OPEN PENDING":           broker.StatusOpen,
	"VALIDATION PENDING":     broker.StatusOpen,
	"PUT ORDER REQ RECEIVED": broker.StatusOpen,
	"MODIFY PENDING":         broker.StatusOpen,
	"TRIGGER PENDING":        broker.StatusTriggerPending,
	"COMPLETE":               broker.StatusComplete,
	"FILLED":                 broker.StatusComplete,
	"REJECTED":               broker.StatusRejected,
	"CANCELLED":              broker.StatusCancelled,
	"CANCELLED AMO":          broker.StatusCancelled,
}

func mapStatus(raw string) broker.Status {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if st, ok := statusTable[key]; ok {
		return st
	}
	return broker.StatusUnknown
}

func snapshotFromJSON(entry gjson.Result) broker.OrderSnapshot {
	return broker.OrderSnapshot{
		OrderID:        entry.Get("order_id").String(),
		Status:         mapStatus(entry.Get("status").String()),
		FilledQuantity: int(entry.Get("filled_quantity").Int()),
		AvgFillPrice:   entry.Get("average_price").Float(),
		RejectReason:   entry.Get("status_message").String(),
	}
}
