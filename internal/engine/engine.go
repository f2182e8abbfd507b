// Package engine drives order execution and reconciliation: it submits
// entries, waits for terminal fills, resolves ambiguous timeouts against
// the broker, attaches protective stops, and guarantees that observed
// exposure always ends protected, flattened or under an explicit emergency
// lockdown.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradesentry/internal/broker"
	"tradesentry/internal/config"
	"tradesentry/internal/instrument"
	"tradesentry/internal/logger"
	"tradesentry/internal/notifier"
	"tradesentry/internal/order"
	"tradesentry/internal/risk"
	"tradesentry/internal/session"
	"tradesentry/internal/store/gormstore"
	"tradesentry/internal/store/journal"
)

// PartialFillPolicy decides what happens when reconciliation discovers a
// partial fill after a timed-out entry.
type PartialFillPolicy string

const (
	// PolicyForceExit flattens the partial quantity immediately.
	PolicyForceExit PartialFillPolicy = "force_exit"
	// PolicyAttach adopts the partial quantity as the active trade and
	// proceeds to stop placement, falling back to force-exit on failure.
	PolicyAttach PartialFillPolicy = "attach"
)

// TradeHistory is the append-only settled-trade ledger consumed by the
// engine.
type TradeHistory interface {
	AppendTrade(ctx context.Context, rec gormstore.SettledTrade) error
}

// Engine is the reconciliation engine. One instance serves one session. The
// public operations (PlaceEntry, ExitCurrentTrade, MonitorProtectiveStop)
// serialize on an operation mutex: each one runs its whole
// check-then-act sequence against a stable view of the broker and the
// session, so a monitor tick can never race a concurrent exit into a
// double close.
type Engine struct {
	opMu sync.Mutex

	adapter broker.Adapter
	orders  *order.Manager
	sess    *session.Session
	insts   *instrument.Registry
	riskEng *risk.Engine
	history TradeHistory
	journal *journal.Journal
	notify  notifier.TextNotifier

	fillTimeout      time.Duration
	pollInterval     time.Duration
	reconcileTimeout time.Duration
	stopCancelWindow time.Duration
	retryDelay       time.Duration
	flattenAttempts  int
	stopAttempts     int
	stopBufferTicks  int
	defaultStopPct   float64
	partialPolicy    PartialFillPolicy

	product         string
	fallbackProduct string
}

// Params carries the engine's injected collaborators.
type Params struct {
	Adapter     broker.Adapter
	Orders      *order.Manager
	Session     *session.Session
	Instruments *instrument.Registry
	Risk        *risk.Engine
	History     TradeHistory
	Journal     *journal.Journal
	Notifier    notifier.TextNotifier
	Execution   config.ExecutionConfig
	Broker      config.BrokerConfig
}

// New builds an Engine. Adapter, Orders and Session are required; the rest
// degrade to no-ops when nil.
func New(p Params) (*Engine, error) {
	if p.Adapter == nil {
		return nil, fmt.Errorf("engine requires a broker adapter")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("engine requires an order manager")
	}
	if p.Session == nil {
		return nil, fmt.Errorf("engine requires a session")
	}
	notify := p.Notifier
	if notify == nil {
		notify = notifier.Nop{}
	}
	policy := PartialFillPolicy(strings.ToLower(strings.TrimSpace(p.Execution.PartialFillPolicy)))
	if policy != PolicyAttach {
		policy = PolicyForceExit
	}
	return &Engine{
		adapter:          p.Adapter,
		orders:           p.Orders,
		sess:             p.Session,
		insts:            p.Instruments,
		riskEng:          p.Risk,
		history:          p.History,
		journal:          p.Journal,
		notify:           notify,
		fillTimeout:      time.Duration(p.Execution.FillTimeoutSeconds) * time.Second,
		pollInterval:     time.Duration(p.Execution.PollIntervalMillis) * time.Millisecond,
		reconcileTimeout: time.Duration(p.Execution.ReconcileTimeoutSeconds) * time.Second,
		stopCancelWindow: time.Duration(p.Execution.StopCancelTimeoutSecs) * time.Second,
		retryDelay:       time.Duration(p.Execution.RetryDelayMillis) * time.Millisecond,
		flattenAttempts:  p.Execution.FlattenAttempts,
		stopAttempts:     p.Execution.StopPlaceAttempts,
		stopBufferTicks:  p.Execution.StopLimitBufferTicks,
		defaultStopPct:   p.Execution.DefaultStopPct,
		partialPolicy:    policy,
		product:          p.Broker.Product,
		fallbackProduct:  p.Broker.FallbackProduct,
	}, nil
}

// Session exposes the engine's session for the ops surface.
func (e *Engine) Session() *session.Session { return e.sess }

// Orders exposes the order table snapshot for the ops surface.
func (e *Engine) Orders() []order.ManagedOrder { return e.orders.All() }

// waitForTerminal polls the order until it reaches a terminal state or the
// deadline passes. It returns the last observed record and whether a
// terminal state was reached. Poll errors are logged and retried; the
// broker's answer on the next tick supersedes a transient transport
// failure.
func (e *Engine) waitForTerminal(ctx context.Context, clientOrderID string, deadline time.Duration) (order.ManagedOrder, bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	last, _ := e.orders.Get(clientOrderID)
	for {
		mo, err := e.orders.PollStatus(ctx, clientOrderID)
		if err != nil {
			logger.Warnf("poll %s failed: %v", clientOrderID, err)
		} else {
			last = mo
			if mo.State.Terminal() {
				return mo, true
			}
		}
		select {
		case <-ctx.Done():
			return last, last.State.Terminal()
		case <-timer.C:
			return last, last.State.Terminal()
		case <-ticker.C:
		}
	}
}

// sleep waits for d unless the context ends first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (e *Engine) journalEvent(kind, symbol, detail string) {
	if e.journal != nil {
		e.journal.RecordEngineEvent(kind, symbol, detail)
	}
}

func (e *Engine) alert(msg notifier.StructuredMessage) {
	if err := e.notify.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("notifier send failed: %v", err)
	}
}

// roundToTick snaps a price to the instrument grid when a registry is
// wired, and passes it through otherwise.
func (e *Engine) roundToTick(symbol string, price float64) float64 {
	if e.insts == nil {
		return price
	}
	return e.insts.RoundToTick(symbol, price)
}

func (e *Engine) offsetTicks(symbol string, price float64, n int) float64 {
	if e.insts == nil {
		return price
	}
	return e.insts.OffsetTicks(symbol, price, n)
}

// triggerLockdown flips the session into emergency state. detail names the
// exhausted fallback chain for the journal and the alert.
func (e *Engine) triggerLockdown(symbol, detail string) Result {
	e.sess.TriggerEmergencyLockdown()
	logger.Criticalf("EMERGENCY LOCKDOWN %s: %s", symbol, detail)
	e.journalEvent("emergency_lockdown", symbol, detail)
	e.alert(notifier.StructuredMessage{
		Icon:  "🚨",
		Title: "EMERGENCY LOCKDOWN",
		Sections: []notifier.MessageSection{{
			Title: symbol,
			Lines: []string{detail, "manual remediation required"},
		}},
		Timestamp: time.Now(),
	})
	return Result{
		Success:                      false,
		State:                        OutcomeEmergencyLockdown,
		Err:                          fmt.Errorf("emergency lockdown: %s", detail),
		ErrText:                      "emergency lockdown: " + detail,
		RequiresEmergencyRemediation: true,
	}
}

// isInsufficientFunds classifies the broker rejection class that justifies
// one retry under the fallback product type.
func isInsufficientFunds(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "insufficient") || strings.Contains(r, "margin shortfall")
}
