// Package broker defines the Adapter interface the execution engine uses to
// talk to a brokerage, together with the wire-level request/response types.
// Broker-specific status vocabulary is normalized at the adapter boundary;
// nothing above this package ever sees raw broker strings.
package broker

import "context"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the flattening side for a position entered on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	// OrderTypeStopLimit is a stop order with a protective limit price, for
	// brokers that reject pure stop-market orders.
	OrderTypeStopLimit OrderType = "SL"
)

// Status is the closed, normalized order status vocabulary. Adapters own
// the mapping from their venue's strings into this enum.
type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusTriggerPending Status = "TRIGGER_PENDING"
	StatusComplete       Status = "COMPLETE"
	StatusRejected       Status = "REJECTED"
	StatusCancelled      Status = "CANCELLED"
	StatusUnknown        Status = "UNKNOWN"
)

// Terminal reports whether no further fills can occur for this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// OrderRequest is an immutable submission intent. ClientOrderID is the
// caller-generated correlation id, unique per submission attempt.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Exchange      string
	Side          Side
	Quantity      int
	OrderType     OrderType
	Price         float64 // required for LIMIT and SL
	TriggerPrice  float64 // required for SL
	Product       string  // margin/product type, broker-specific (e.g. MIS, CNC)
	Tag           string
}

// PlaceResult reports the outcome of an order submission. A rejected
// submission carries OK=false and Reason; it is not an adapter error.
type PlaceResult struct {
	OrderID string
	OK      bool
	Reason  string
}

// OrderSnapshot is one observation of an order's state at the broker.
type OrderSnapshot struct {
	OrderID        string
	Status         Status
	FilledQuantity int
	AvgFillPrice   float64
	RejectReason   string
}

// OpenOrder is one entry of the broker's open-orders list.
type OpenOrder struct {
	OrderID string
	Status  Status
	Symbol  string
	Side    Side
	Qty     int
}

// Position is the broker's view of current exposure in one instrument.
type Position struct {
	Symbol       string
	Exchange     string
	Quantity     int // signed: negative for short
	AveragePrice float64
	LastPrice    float64
	PnL          float64
}

// Quote is a last-traded snapshot used as the last-resort price source.
type Quote struct {
	Last float64
	Open float64
	High float64
	Low  float64
}

// Adapter abstracts the remote brokerage. Implementations are stateless
// beyond the network session; every call takes a context and must apply a
// network timeout.
type Adapter interface {
	Name() string

	// PlaceOrder submits an order. Venue-level rejections are reported in
	// PlaceResult; the error return is reserved for transport failures.
	PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error)

	// GetOrderStatus returns the current snapshot for a broker order id.
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderSnapshot, error)

	// CancelOrder requests cancellation. Best-effort: the caller must poll
	// to observe the resulting terminal state.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetOrderHistory returns the per-update trail for an order, used as a
	// fallback source of fill prices when the status poll omits them.
	GetOrderHistory(ctx context.Context, brokerOrderID string) ([]OrderSnapshot, error)

	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)

	GetPositions(ctx context.Context) ([]Position, error)

	GetQuote(ctx context.Context, symbol, exchange string) (Quote, error)
}
