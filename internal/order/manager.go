package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradesentry/internal/broker"
	"tradesentry/internal/logger"
)

// Manager tracks every order this process has submitted. All mutation of
// the order table goes through the Manager under its mutex; callers receive
// copies, never pointers into the table.
type Manager struct {
	adapter broker.Adapter
	sink    EventSink

	mu     sync.Mutex
	orders map[string]*ManagedOrder // keyed by client order id
}

// NewManager builds a Manager around a broker adapter. sink may be nil.
func NewManager(adapter broker.Adapter, sink EventSink) *Manager {
	return &Manager{
		adapter: adapter,
		sink:    sink,
		orders:  make(map[string]*ManagedOrder),
	}
}

// SendOrder submits the request to the broker. Adapter-level failures do
// not surface as errors: the returned order carries StateRejected and the
// reason, so callers handle submission failure and venue rejection the same
// way. The returned error is reserved for programming mistakes (duplicate
// client order id).
func (m *Manager) SendOrder(ctx context.Context, req broker.OrderRequest) (ManagedOrder, error) {
	if req.ClientOrderID == "" {
		return ManagedOrder{}, fmt.Errorf("order request requires a client order id")
	}
	m.mu.Lock()
	if _, exists := m.orders[req.ClientOrderID]; exists {
		m.mu.Unlock()
		return ManagedOrder{}, fmt.Errorf("duplicate client order id %s", req.ClientOrderID)
	}
	ord := &ManagedOrder{
		ClientOrderID: req.ClientOrderID,
		Request:       req,
		State:         StateSent,
		SubmittedAt:   time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.orders[req.ClientOrderID] = ord
	m.mu.Unlock()

	m.record(ord, "submitted", "")

	res, err := m.adapter.PlaceOrder(ctx, req)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err != nil:
		ord.State = StateRejected
		ord.RejectReason = err.Error()
		logger.Warnf("order %s submission failed: %v", req.ClientOrderID, err)
	case !res.OK:
		ord.State = StateRejected
		ord.RejectReason = res.Reason
		logger.Warnf("order %s rejected by broker: %s", req.ClientOrderID, res.Reason)
	default:
		ord.BrokerOrderID = res.OrderID
		ord.State = StateAcknowledged
		logger.Infof("order %s acknowledged, broker id %s", req.ClientOrderID, res.OrderID)
	}
	ord.UpdatedAt = time.Now()
	m.recordLocked(ord, "state", ord.RejectReason)
	return *ord, nil
}

// PollStatus refreshes one order from the broker and returns the updated
// record. Filled quantity is monotone: a poll reporting fewer filled shares
// than previously observed keeps the prior maximum.
func (m *Manager) PollStatus(ctx context.Context, clientOrderID string) (ManagedOrder, error) {
	m.mu.Lock()
	ord, ok := m.orders[clientOrderID]
	if !ok {
		m.mu.Unlock()
		return ManagedOrder{}, fmt.Errorf("unknown client order id %s", clientOrderID)
	}
	if ord.State.Terminal() || ord.BrokerOrderID == "" {
		snapshot := *ord
		m.mu.Unlock()
		return snapshot, nil
	}
	brokerID := ord.BrokerOrderID
	m.mu.Unlock()

	snap, err := m.adapter.GetOrderStatus(ctx, brokerID)
	if err != nil {
		m.mu.Lock()
		snapshot := *ord
		m.mu.Unlock()
		return snapshot, fmt.Errorf("polling order %s failed: %w", clientOrderID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prevState := ord.State
	applySnapshot(ord, snap)
	if ord.State != prevState {
		m.recordLocked(ord, "state", ord.RejectReason)
	}
	return *ord, nil
}

// CancelOrder issues a best-effort cancel. A nil return means the broker
// accepted the request, not that the order is cancelled; callers must
// re-poll to observe the terminal state.
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	ord, ok := m.orders[clientOrderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown client order id %s", clientOrderID)
	}
	if ord.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	brokerID := ord.BrokerOrderID
	req := ord.Request
	m.mu.Unlock()

	if brokerID == "" {
		return fmt.Errorf("order %s has no broker id to cancel", clientOrderID)
	}
	m.record(&ManagedOrder{ClientOrderID: clientOrderID, BrokerOrderID: brokerID, Request: req}, "cancel_requested", "")
	if err := m.adapter.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("cancel of order %s failed: %w", clientOrderID, err)
	}
	return nil
}

// Get returns a copy of the managed order, if known.
func (m *Manager) Get(clientOrderID string) (ManagedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[clientOrderID]
	if !ok {
		return ManagedOrder{}, false
	}
	return *ord, true
}

// All returns a snapshot of the full order table, newest first not
// guaranteed; callers sort if they care.
func (m *Manager) All() []ManagedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManagedOrder, 0, len(m.orders))
	for _, ord := range m.orders {
		out = append(out, *ord)
	}
	return out
}

// applySnapshot folds a broker observation into the managed order. Caller
// holds the table mutex.
func applySnapshot(ord *ManagedOrder, snap broker.OrderSnapshot) {
	if snap.FilledQuantity > ord.FilledQuantity {
		ord.FilledQuantity = snap.FilledQuantity
		if snap.AvgFillPrice > 0 {
			ord.AvgFillPrice = snap.AvgFillPrice
		}
	} else if snap.AvgFillPrice > 0 && ord.AvgFillPrice == 0 {
		ord.AvgFillPrice = snap.AvgFillPrice
	}

	switch snap.Status {
	case broker.StatusComplete:
		ord.State = StateFilled
		if ord.FilledQuantity == 0 {
			// COMPLETE with no reported quantity: trust the terminal status
			// and assume the full request executed.
			ord.FilledQuantity = ord.Request.Quantity
		}
	case broker.StatusRejected:
		ord.State = StateRejected
		ord.RejectReason = snap.RejectReason
	case broker.StatusCancelled:
		ord.State = StateCancelled
		ord.RejectReason = snap.RejectReason
	default:
		if ord.FilledQuantity > 0 {
			ord.State = StatePartialFilled
		} else if ord.State == StateSent {
			ord.State = StateAcknowledged
		}
	}
	ord.UpdatedAt = time.Now()
}

func (m *Manager) record(ord *ManagedOrder, kind, detail string) {
	m.mu.Lock()
	m.recordLocked(ord, kind, detail)
	m.mu.Unlock()
}

func (m *Manager) recordLocked(ord *ManagedOrder, kind, detail string) {
	if m.sink == nil {
		return
	}
	m.sink.RecordOrderEvent(Event{
		ClientOrderID: ord.ClientOrderID,
		BrokerOrderID: ord.BrokerOrderID,
		Symbol:        ord.Request.Symbol,
		Kind:          kind,
		State:         ord.State,
		FilledQty:     ord.FilledQuantity,
		AvgFillPrice:  ord.AvgFillPrice,
		Detail:        detail,
		At:            time.Now(),
	})
}
