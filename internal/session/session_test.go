package session

import (
	"testing"

	"tradesentry/internal/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrade() *Trade {
	return &Trade{
		ID:         "t1",
		Symbol:     "RELIANCE",
		Exchange:   "NSE",
		Side:       broker.SideBuy,
		Qty:        10,
		EntryPrice: 100,
		StopLoss:   99,
	}
}

func TestNewSessionAllowsTrading(t *testing.T) {
	s := New()
	assert.True(t, s.TradingAllowed())
	assert.Equal(t, StateNormal, s.SystemState())
	assert.Nil(t, s.CurrentTrade())
}

func TestCurrentTradeReturnsCopy(t *testing.T) {
	s := New()
	s.SetTrade(sampleTrade())

	got := s.CurrentTrade()
	require.NotNil(t, got)
	got.Qty = 999

	assert.Equal(t, 10, s.CurrentTrade().Qty, "callers must not mutate session state through the copy")
}

func TestUpdateTrade(t *testing.T) {
	s := New()
	s.UpdateTrade(func(tr *Trade) { tr.Qty = 5 }) // no trade: no-op, no panic

	s.SetTrade(sampleTrade())
	s.UpdateTrade(func(tr *Trade) {
		tr.StopOrderID = "stop-1"
		tr.StopOrderStatus = StopOpen
	})

	got := s.CurrentTrade()
	assert.Equal(t, "stop-1", got.StopOrderID)
	assert.Equal(t, StopOpen, got.StopOrderStatus)
}

func TestExitPendingRecoveryLifecycle(t *testing.T) {
	s := New()
	s.MarkExitPendingRecovery()
	assert.Equal(t, StateExitPendingRecovery, s.SystemState())
	assert.False(t, s.TradingAllowed())

	s.ClearExitPendingRecovery()
	assert.Equal(t, StateNormal, s.SystemState())
	assert.True(t, s.TradingAllowed())
}

func TestEmergencyIsNotDowngradedByRecoveryMark(t *testing.T) {
	s := New()
	s.TriggerEmergencyLockdown()
	require.Equal(t, StateEmergency, s.SystemState())

	s.MarkExitPendingRecovery()
	assert.Equal(t, StateEmergency, s.SystemState())

	s.ClearExitPendingRecovery()
	assert.Equal(t, StateEmergency, s.SystemState(), "only manual remediation clears an emergency")
	assert.False(t, s.TradingAllowed())
}

func TestManualRemediateResetsSafetyState(t *testing.T) {
	s := New()
	s.RecordFlattenFailure()
	s.TriggerEmergencyLockdown()

	s.ManualRemediate()

	snap := s.Snapshot()
	assert.Equal(t, StateNormal, snap.SystemState)
	assert.False(t, snap.TradingDisabled)
	assert.False(t, snap.RequiresRemediation)
	assert.Zero(t, snap.FlattenFailures)
	assert.True(t, s.TradingAllowed())
}

func TestRiskLockoutDisablesTrading(t *testing.T) {
	s := New()
	s.ApplyRiskState(-5000, 3, true)

	assert.False(t, s.TradingAllowed())
	realized, trades, locked := s.RiskCounters()
	assert.InDelta(t, -5000, realized, 1e-9)
	assert.Equal(t, 3, trades)
	assert.True(t, locked)
}

func TestSnapshotCopiesTrade(t *testing.T) {
	s := New()
	s.SetTrade(sampleTrade())

	snap := s.Snapshot()
	require.NotNil(t, snap.CurrentTrade)
	snap.CurrentTrade.Qty = 1

	assert.Equal(t, 10, s.CurrentTrade().Qty)
}
