// Package session holds the per-trading-session mutable state: the single
// open trade, safety flags and risk counters. The engine mutates it under
// the session mutex; HTTP handlers read snapshots.
package session

import (
	"sync"
	"time"

	"tradesentry/internal/broker"
)

// SystemState is the session-level safety state.
type SystemState string

const (
	// StateNormal allows automated trading.
	StateNormal SystemState = "NORMAL"
	// StateExitPendingRecovery means an exit could not be confirmed safe;
	// the position stays open locally and the exit must be retried.
	StateExitPendingRecovery SystemState = "EXIT_PENDING_RECOVERY"
	// StateEmergency means exposure could neither be protected nor
	// flattened. Trading halts until manual remediation.
	StateEmergency SystemState = "EMERGENCY"
)

// StopStatus tracks the protective stop attached to the open trade.
type StopStatus string

const (
	StopNone      StopStatus = "NONE"
	StopOpen      StopStatus = "OPEN"
	StopFilled    StopStatus = "FILLED"
	StopCancelled StopStatus = "CANCELLED"
	StopRejected  StopStatus = "REJECTED"
)

// Trade is the currently open position. Created on a confirmed entry fill,
// cleared only after an invariant-checked exit.
type Trade struct {
	ID              string
	OrderID         string
	Symbol          string
	Exchange        string
	Side            broker.Side
	Qty             int
	EntryPrice      float64
	EntryTime       time.Time
	StopLoss        float64
	Target          float64
	StopOrderID     string // client order id of the protective stop
	StopOrderStatus StopStatus
	ExitTime        time.Time
	ExitPrice       float64
	PnL             float64
	ExitReason      string
}

// Session is the process-wide state for one trading session.
type Session struct {
	mu sync.Mutex

	currentTrade *Trade
	systemState  SystemState

	tradingDisabled      bool
	requiresRemediation  bool
	flattenFailures      int
	exitRecoveryAttempts int

	// risk counters, updated by the risk engine after each settled trade
	realizedPnL float64
	tradesToday int
	lockedOut   bool
}

// New returns a session ready for trading.
func New() *Session {
	return &Session{systemState: StateNormal}
}

// CurrentTrade returns a copy of the open trade, or nil.
func (s *Session) CurrentTrade() *Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTrade == nil {
		return nil
	}
	t := *s.currentTrade
	return &t
}

// SetTrade installs the open trade. The at-most-one-trade invariant is the
// caller's to honor; SetTrade overwrites unconditionally.
func (s *Session) SetTrade(t *Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.currentTrade = nil
		return
	}
	cp := *t
	s.currentTrade = &cp
}

// UpdateTrade applies fn to the open trade under the session lock. No-op
// when no trade is open.
func (s *Session) UpdateTrade(fn func(*Trade)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTrade == nil {
		return
	}
	fn(s.currentTrade)
}

// ClearTrade removes the open trade after a finalized exit.
func (s *Session) ClearTrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTrade = nil
}

// SystemState returns the current safety state.
func (s *Session) SystemState() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemState
}

// MarkExitPendingRecovery flags an unconfirmed exit. It never downgrades an
// emergency.
func (s *Session) MarkExitPendingRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemState == StateEmergency {
		return
	}
	s.systemState = StateExitPendingRecovery
	s.exitRecoveryAttempts++
}

// ClearExitPendingRecovery restores normal state after a successful retried
// exit.
func (s *Session) ClearExitPendingRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemState == StateExitPendingRecovery {
		s.systemState = StateNormal
	}
}

// TriggerEmergencyLockdown is terminal: trading stops and stays stopped
// until ManualRemediate.
func (s *Session) TriggerEmergencyLockdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemState = StateEmergency
	s.tradingDisabled = true
	s.requiresRemediation = true
}

// ManualRemediate clears an emergency lockdown. Only the ops surface calls
// this; the engine never does.
func (s *Session) ManualRemediate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemState = StateNormal
	s.tradingDisabled = false
	s.requiresRemediation = false
	s.flattenFailures = 0
	s.exitRecoveryAttempts = 0
}

// TradingAllowed reports whether the engine may open new positions.
func (s *Session) TradingAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.tradingDisabled && !s.lockedOut && s.systemState == StateNormal
}

// RecordFlattenFailure bumps the recovery counter.
func (s *Session) RecordFlattenFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flattenFailures++
}

// ApplyRiskState merges the risk engine's post-exit verdict.
func (s *Session) ApplyRiskState(realizedPnL float64, tradesToday int, lockedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realizedPnL = realizedPnL
	s.tradesToday = tradesToday
	s.lockedOut = lockedOut
	if lockedOut {
		s.tradingDisabled = true
	}
}

// RiskCounters returns the session's realized P&L and trade count.
func (s *Session) RiskCounters() (realizedPnL float64, tradesToday int, lockedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnL, s.tradesToday, s.lockedOut
}

// Snapshot is an immutable view for the ops API.
type Snapshot struct {
	SystemState          SystemState `json:"system_state"`
	TradingDisabled      bool        `json:"trading_disabled"`
	RequiresRemediation  bool        `json:"requires_remediation"`
	FlattenFailures      int         `json:"flatten_failures"`
	ExitRecoveryAttempts int         `json:"exit_recovery_attempts"`
	RealizedPnL          float64     `json:"realized_pnl"`
	TradesToday          int         `json:"trades_today"`
	LockedOut            bool        `json:"locked_out"`
	CurrentTrade         *Trade      `json:"current_trade,omitempty"`
}

// Snapshot returns a copy of all session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SystemState:          s.systemState,
		TradingDisabled:      s.tradingDisabled,
		RequiresRemediation:  s.requiresRemediation,
		FlattenFailures:      s.flattenFailures,
		ExitRecoveryAttempts: s.exitRecoveryAttempts,
		RealizedPnL:          s.realizedPnL,
		TradesToday:          s.tradesToday,
		LockedOut:            s.lockedOut,
	}
	if s.currentTrade != nil {
		t := *s.currentTrade
		snap.CurrentTrade = &t
	}
	return snap
}
