package risk

import (
	"testing"
	"time"

	"tradesentry/internal/session"

	"github.com/stretchr/testify/assert"
)

func TestEvaluatePostExitAccumulates(t *testing.T) {
	e := NewEngine(1000)
	sess := session.New()

	out := e.EvaluatePostExit(sess, 150, time.Now())
	assert.InDelta(t, 150, out.RealizedPnL, 1e-9)
	assert.InDelta(t, 150, out.AdjustedPnL, 1e-9)
	assert.Equal(t, 1, out.TradesToday)
	assert.False(t, out.LockedOut)

	sess.ApplyRiskState(out.RealizedPnL, out.TradesToday, out.LockedOut)
	out = e.EvaluatePostExit(sess, -200, time.Now())
	assert.InDelta(t, -50, out.RealizedPnL, 1e-9)
	assert.Equal(t, 2, out.TradesToday)
	assert.False(t, out.LockedOut)
}

func TestEvaluatePostExitLocksOutOnBreach(t *testing.T) {
	e := NewEngine(1000)
	sess := session.New()
	sess.ApplyRiskState(-800, 2, false)

	out := e.EvaluatePostExit(sess, -500, time.Now())
	assert.True(t, out.LockedOut)
	// the recorded loss is capped at the remaining daily budget
	assert.InDelta(t, -1000, out.RealizedPnL, 1e-9)
	assert.InDelta(t, -200, out.AdjustedPnL, 1e-9)
	assert.Equal(t, 3, out.TradesToday)
}

func TestEvaluatePostExitExactBreach(t *testing.T) {
	e := NewEngine(1000)
	sess := session.New()

	out := e.EvaluatePostExit(sess, -1000, time.Now())
	assert.True(t, out.LockedOut)
	assert.InDelta(t, -1000, out.RealizedPnL, 1e-9)
	assert.InDelta(t, -1000, out.AdjustedPnL, 1e-9)
}

func TestZeroLimitDisablesLockout(t *testing.T) {
	e := NewEngine(0)
	sess := session.New()

	out := e.EvaluatePostExit(sess, -100000, time.Now())
	assert.False(t, out.LockedOut)
	assert.InDelta(t, -100000, out.RealizedPnL, 1e-9)
}

func TestNilEngineIsSafe(t *testing.T) {
	var e *Engine
	sess := session.New()

	out := e.EvaluatePostExit(sess, -50, time.Now())
	assert.False(t, out.LockedOut)
	assert.Equal(t, 1, out.TradesToday)
}
