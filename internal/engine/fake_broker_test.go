package engine

import (
	"context"
	"fmt"
	"sync"

	"tradesentry/internal/broker"
)

// fakeBroker is a scripted broker.Adapter. Order statuses are keyed by the
// request tag so tests do not need to predict broker order ids; a sequence
// of more than one snapshot is consumed one per poll and the last entry
// repeats. Cancelling an order flips subsequent status polls to CANCELLED
// unless cancelInert is set.
type fakeBroker struct {
	mu sync.Mutex

	placed  []broker.OrderRequest
	cancels []string
	nextID  int

	tagByID   map[string]string
	lastSnap  map[string]broker.OrderSnapshot
	cancelled map[string]bool

	statusByTag map[string][]broker.OrderSnapshot
	rejectPlace map[string]string // "tag" or "tag/product" -> rejection reason
	cancelInert bool

	openOrders   []broker.OpenOrder
	positionsSeq [][]broker.Position
	positionsErr error
	historyByTag map[string][]broker.OrderSnapshot
	quote        broker.Quote
	quoteErr     error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		tagByID:      make(map[string]string),
		lastSnap:     make(map[string]broker.OrderSnapshot),
		cancelled:    make(map[string]bool),
		statusByTag:  make(map[string][]broker.OrderSnapshot),
		rejectPlace:  make(map[string]string),
		historyByTag: make(map[string][]broker.OrderSnapshot),
	}
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if reason, ok := f.rejectPlace[req.Tag+"/"+req.Product]; ok {
		return broker.PlaceResult{OK: false, Reason: reason}, nil
	}
	if reason, ok := f.rejectPlace[req.Tag]; ok {
		return broker.PlaceResult{OK: false, Reason: reason}, nil
	}
	f.nextID++
	id := fmt.Sprintf("B%03d", f.nextID)
	f.tagByID[id] = req.Tag
	return broker.PlaceResult{OrderID: id, OK: true}, nil
}

func (f *fakeBroker) GetOrderStatus(_ context.Context, brokerOrderID string) (broker.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled[brokerOrderID] {
		snap := f.lastSnap[brokerOrderID]
		snap.OrderID = brokerOrderID
		snap.Status = broker.StatusCancelled
		return snap, nil
	}
	tag := f.tagByID[brokerOrderID]
	seq := f.statusByTag[tag]
	var snap broker.OrderSnapshot
	switch len(seq) {
	case 0:
		snap = broker.OrderSnapshot{Status: broker.StatusOpen}
	case 1:
		snap = seq[0]
	default:
		snap = seq[0]
		f.statusByTag[tag] = seq[1:]
	}
	snap.OrderID = brokerOrderID
	f.lastSnap[brokerOrderID] = snap
	return snap, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, brokerOrderID)
	if !f.cancelInert {
		f.cancelled[brokerOrderID] = true
	}
	return nil
}

func (f *fakeBroker) GetOrderHistory(_ context.Context, brokerOrderID string) ([]broker.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyByTag[f.tagByID[brokerOrderID]], nil
}

func (f *fakeBroker) GetOpenOrders(_ context.Context) ([]broker.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broker.OpenOrder, len(f.openOrders))
	copy(out, f.openOrders)
	return out, nil
}

func (f *fakeBroker) GetPositions(_ context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	if len(f.positionsSeq) == 0 {
		return nil, nil
	}
	head := f.positionsSeq[0]
	if len(f.positionsSeq) > 1 {
		f.positionsSeq = f.positionsSeq[1:]
	}
	out := make([]broker.Position, len(head))
	copy(out, head)
	return out, nil
}

func (f *fakeBroker) GetQuote(_ context.Context, _, _ string) (broker.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.quoteErr
}

func (f *fakeBroker) setOpenOrders(orders []broker.OpenOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openOrders = orders
}

// placedWithTag returns the submitted requests carrying tag, in order.
func (f *fakeBroker) placedWithTag(tag string) []broker.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broker.OrderRequest
	for _, req := range f.placed {
		if req.Tag == tag {
			out = append(out, req)
		}
	}
	return out
}
