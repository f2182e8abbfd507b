// Package order owns the client-side order state machine. A ManagedOrder
// mirrors one broker order; it is created on submission and mutated only by
// the Manager in response to broker responses or polls.
package order

import (
	"time"

	"tradesentry/internal/broker"
)

// State is the client-side order lifecycle.
//
//	SENT -> ACKNOWLEDGED -> PARTIAL_FILLED -> FILLED
//
// Any non-terminal state may jump to REJECTED or CANCELLED.
type State string

const (
	StateSent          State = "SENT"
	StateAcknowledged  State = "ACKNOWLEDGED"
	StatePartialFilled State = "PARTIAL_FILLED"
	StateFilled        State = "FILLED"
	StateRejected      State = "REJECTED"
	StateCancelled     State = "CANCELLED"
)

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateRejected, StateCancelled:
		return true
	}
	return false
}

// ManagedOrder is the mutable client-side record for one submission.
type ManagedOrder struct {
	ClientOrderID  string
	BrokerOrderID  string
	Request        broker.OrderRequest
	State          State
	FilledQuantity int
	AvgFillPrice   float64
	RejectReason   string
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}

// Filled reports whether any quantity has executed.
func (o *ManagedOrder) Filled() bool {
	return o != nil && o.FilledQuantity > 0
}

// Event is one journaled order lifecycle observation.
type Event struct {
	ClientOrderID string
	BrokerOrderID string
	Symbol        string
	Kind          string // "submitted", "state", "cancel_requested"
	State         State
	FilledQty     int
	AvgFillPrice  float64
	Detail        string
	At            time.Time
}

// EventSink receives order lifecycle events. Implementations must not
// block; failures are the sink's problem, never the order path's.
type EventSink interface {
	RecordOrderEvent(evt Event)
}
