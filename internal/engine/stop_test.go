package engine

import (
	"context"
	"testing"

	"tradesentry/internal/broker"
	"tradesentry/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorWithNoTrade(t *testing.T) {
	f := newFakeBroker()
	eng, _, _ := newTestEngine(t, f, nil)

	res := eng.MonitorProtectiveStop(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeNoTrade, res.State)
}

func TestMonitorStopStillOpen(t *testing.T) {
	f := newFakeBroker()
	eng, sess, _ := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	res := eng.MonitorProtectiveStop(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, OutcomeStopActive, res.State)
	assert.NotNil(t, sess.CurrentTrade())
}

func TestMonitorStopFilledSettlesTrade(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	f.statusByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 98.5},
	}

	res := eng.MonitorProtectiveStop(context.Background())

	require.True(t, res.Success, "stop fill should settle: %s", res.ErrText)
	assert.Equal(t, OutcomeStopFilled, res.State)
	assert.InDelta(t, 98.5, res.ExitPrice, 1e-9)
	assert.InDelta(t, -15.0, res.PnL, 1e-9)
	assert.Nil(t, sess.CurrentTrade())

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "stop_loss_hit", recs[0].ExitReason)
}

func TestMonitorStopInvalidatedForcesExit(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// Stop rejected while the broker still shows the full long.
	f.statusByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusRejected, RejectReason: "rms: trigger invalid"},
	}
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 99.2},
	}

	res := eng.MonitorProtectiveStop(context.Background())

	require.True(t, res.Success, "forced exit should settle: %s", res.ErrText)
	assert.Equal(t, OutcomeStopInvalidatedExited, res.State)
	assert.InDelta(t, 99.2, res.ExitPrice, 1e-9)
	assert.Nil(t, sess.CurrentTrade())

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "stop_invalidated_forced_exit", recs[0].ExitReason)
}

func TestMonitorStopInvalidatedAlreadyFlat(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	f.statusByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusCancelled},
	}
	// broker already flat, nothing left to close
	f.historyByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 98.9},
	}

	res := eng.MonitorProtectiveStop(context.Background())

	require.True(t, res.Success, "already-flat invalidation should settle: %s", res.ErrText)
	assert.Equal(t, OutcomeStopInvalidatedExited, res.State)
	assert.InDelta(t, 98.9, res.ExitPrice, 1e-9)
	assert.Nil(t, sess.CurrentTrade())
	assert.Empty(t, f.placedWithTag("close"))

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "stop_invalidated_already_flat", recs[0].ExitReason)
}

func TestMonitorStopInvalidatedFlattenFailureLocksDown(t *testing.T) {
	f := newFakeBroker()
	eng, sess, _ := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	f.statusByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusCancelled},
	}
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
	}
	f.rejectPlace["close/MIS"] = "exchange not reachable"
	f.rejectPlace["close/CNC"] = "exchange not reachable"

	res := eng.MonitorProtectiveStop(context.Background())

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeEmergencyLockdown, res.State)
	assert.True(t, res.RequiresEmergencyRemediation)
	assert.Equal(t, session.StateEmergency, sess.SystemState())
	assert.NotNil(t, sess.CurrentTrade(), "unmanaged exposure stays recorded for the operator")
}
