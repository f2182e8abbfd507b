package engine

import (
	"context"
	"errors"
	"testing"

	"tradesentry/internal/broker"
	"tradesentry/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openProtectedTrade drives a full entry so the session holds a protected
// long of 10 RELIANCE at entryPrice.
func openProtectedTrade(t *testing.T, eng *Engine, f *fakeBroker, entryPrice float64) {
	t.Helper()
	f.statusByTag["entry"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: entryPrice},
	}
	res := eng.PlaceEntry(context.Background(), buyDecision())
	require.True(t, res.Success, "entry setup failed: %s", res.ErrText)
	require.Equal(t, OutcomeFilledProtected, res.State)
}

func TestExitWithNoOpenTrade(t *testing.T) {
	f := newFakeBroker()
	eng, _, _ := newTestEngine(t, f, nil)

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeNoTrade, res.State)
	assert.ErrorIs(t, res.Err, ErrNoOpenTrade)
}

func TestExitManualClose(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// broker shows the long once, then flat after the close fills
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
		{},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 101.5},
	}

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	require.True(t, res.Success, "manual close should settle: %s", res.ErrText)
	assert.Equal(t, OutcomeExited, res.State)
	assert.InDelta(t, 101.5, res.ExitPrice, 1e-9)
	assert.InDelta(t, 15.0, res.PnL, 1e-9)
	assert.Nil(t, sess.CurrentTrade())
	assert.Equal(t, session.StateNormal, sess.SystemState())

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "manual_exit", recs[0].ExitReason)
	assert.InDelta(t, 15.0, recs[0].PnL, 1e-9)

	realized, trades, locked := sess.RiskCounters()
	assert.InDelta(t, 15.0, realized, 1e-9)
	assert.Equal(t, 1, trades)
	assert.False(t, locked)
}

func TestExitAlreadyFlatByStop(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// The cancel arrives after the stop already executed: the poll reports
	// COMPLETE and the broker shows no position left.
	f.cancelInert = true
	f.statusByTag["stop"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 98.6},
	}

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	require.True(t, res.Success, "stop-settled exit should succeed: %s", res.ErrText)
	assert.Equal(t, OutcomeAlreadyFlatByStop, res.State)
	assert.InDelta(t, 98.6, res.ExitPrice, 1e-9)
	assert.InDelta(t, -14.0, res.PnL, 1e-9)
	assert.Nil(t, sess.CurrentTrade())
	assert.Empty(t, f.placedWithTag("close"), "no redundant close order may be sent")

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "stop_loss_hit", recs[0].ExitReason)
}

func TestExitHaltsWhenStopCancelUnconfirmed(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// Cancel has no effect, the stop keeps reporting OPEN and stays on the
	// broker's open-orders list for the whole confirmation window.
	f.cancelInert = true
	trade := sess.CurrentTrade()
	stopOrd, ok := eng.orders.Get(trade.StopOrderID)
	require.True(t, ok)
	f.setOpenOrders([]broker.OpenOrder{{OrderID: stopOrd.BrokerOrderID, Status: broker.StatusTriggerPending}})

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeExitPendingRecovery, res.State)
	assert.Equal(t, session.StateExitPendingRecovery, sess.SystemState())
	assert.NotNil(t, sess.CurrentTrade(), "unconfirmed exit must not clear the trade")
	assert.Empty(t, f.placedWithTag("close"), "no close while the stop may be live")
	assert.Empty(t, hist.all())
}

func TestExitRetryRequiredWhenCloseUnconfirmed(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
	}
	f.rejectPlace["close/MIS"] = "exchange session closed"

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	assert.False(t, res.Success)
	assert.Equal(t, OutcomeExitRetryRequired, res.State)
	assert.ErrorIs(t, res.Err, ErrExitUnconfirmed)
	assert.NotNil(t, sess.CurrentTrade())
	assert.Empty(t, hist.all())
}

func TestExitPostCloseInvariantFailure(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// The close reports COMPLETE yet the broker keeps showing the long.
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 101},
	}

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	assert.False(t, res.Success)
	assert.Equal(t, OutcomePostCloseInvariantFailed, res.State)
	assert.Equal(t, session.StateExitPendingRecovery, sess.SystemState())
	assert.NotNil(t, sess.CurrentTrade(), "conflicting broker state must not finalize")
	assert.Empty(t, hist.all())
}

func TestConcurrentExitsCloseOnlyOnce(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
		{},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 101},
	}

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- eng.ExitCurrentTrade(context.Background(), 0, "")
		}()
	}
	got := []Result{<-results, <-results}

	exited, noTrade := 0, 0
	for _, res := range got {
		switch res.State {
		case OutcomeExited:
			exited++
		case OutcomeNoTrade:
			noTrade++
		}
	}
	assert.Equal(t, 1, exited, "exactly one exit may settle the trade")
	assert.Equal(t, 1, noTrade, "the other caller must see the trade already gone")
	assert.Len(t, f.placedWithTag("close"), 1, "a 10-share long gets 10 shares of closes, not 20")
	assert.Nil(t, sess.CurrentTrade())

	require.Len(t, hist.all(), 1)
	realized, trades, _ := sess.RiskCounters()
	assert.InDelta(t, 10.0, realized, 1e-9, "realized p&l booked once")
	assert.Equal(t, 1, trades)
}

func TestExitDegradedPriceNeverZero(t *testing.T) {
	f := newFakeBroker()
	eng, _, hist := newTestEngine(t, f, nil)
	openProtectedTrade(t, eng, f, 100)

	// The close fills with no average price, the order trail is empty and
	// the quote feed is down: the market close has no requested price, so
	// the resolution must land on the trade's recorded stop level, not 0.
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 10}},
		{},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10},
	}
	f.quoteErr = errors.New("quote feed down")

	res := eng.ExitCurrentTrade(context.Background(), 0, "")

	require.True(t, res.Success, "degraded price must not block the exit: %s", res.ErrText)
	assert.InDelta(t, 99.0, res.ExitPrice, 1e-9)
	assert.InDelta(t, -10.0, res.PnL, 1e-9)

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.InDelta(t, 99.0, recs[0].ExitPrice, 1e-9)
}

func TestShortTradePnLSignFlip(t *testing.T) {
	f := newFakeBroker()
	eng, sess, hist := newTestEngine(t, f, nil)

	f.statusByTag["entry"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 100},
	}
	d := buyDecision()
	d.Side = "SELL"
	d.StopLoss = 101
	res := eng.PlaceEntry(context.Background(), d)
	require.True(t, res.Success, "short entry setup failed: %s", res.ErrText)

	// short covered below entry: price dropped, the trade made money
	f.positionsSeq = [][]broker.Position{
		{{Symbol: "RELIANCE", Exchange: "NSE", Quantity: -10}},
		{},
	}
	f.statusByTag["close"] = []broker.OrderSnapshot{
		{Status: broker.StatusComplete, FilledQuantity: 10, AvgFillPrice: 98},
	}

	exit := eng.ExitCurrentTrade(context.Background(), 0, "target_hit")

	require.True(t, exit.Success, "short exit failed: %s", exit.ErrText)
	assert.InDelta(t, 20.0, exit.PnL, 1e-9)
	assert.Nil(t, sess.CurrentTrade())

	recs := hist.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "target_hit", recs[0].ExitReason)
	assert.InDelta(t, 20.0, recs[0].PnL, 1e-9)

	closes := f.placedWithTag("close")
	require.Len(t, closes, 1)
	assert.Equal(t, broker.SideBuy, closes[0].Side, "short is covered with a buy")
}
