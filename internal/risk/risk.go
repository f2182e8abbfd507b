// Package risk updates session risk state after each settled trade. The
// evaluation is a pure function of the current counters and the realized
// P&L; the caller merges the returned state into the session.
package risk

import (
	"time"

	"tradesentry/internal/logger"
	"tradesentry/internal/session"
)

// Engine applies post-exit risk rules. Zero MaxDailyLoss disables the
// daily-loss lockout.
type Engine struct {
	maxDailyLoss float64
}

func NewEngine(maxDailyLoss float64) *Engine {
	return &Engine{maxDailyLoss: maxDailyLoss}
}

// PostExitState is the verdict to merge into the session.
type PostExitState struct {
	RealizedPnL float64
	AdjustedPnL float64 // P&L to record for the trade, post caps
	TradesToday int
	LockedOut   bool
}

// EvaluatePostExit folds one realized trade P&L into the session's risk
// counters. When the cumulative day loss breaches the limit the session is
// locked out for the rest of the day; the recorded loss is capped at the
// remaining budget so the ledger never shows more loss than risk allowed.
func (e *Engine) EvaluatePostExit(sess *session.Session, tradePnL float64, tradeTime time.Time) PostExitState {
	realized, trades, locked := sess.RiskCounters()
	out := PostExitState{
		RealizedPnL: realized + tradePnL,
		AdjustedPnL: tradePnL,
		TradesToday: trades + 1,
		LockedOut:   locked,
	}
	if e == nil || e.maxDailyLoss <= 0 {
		return out
	}
	if out.RealizedPnL <= -e.maxDailyLoss {
		if !out.LockedOut {
			logger.Warnf("daily loss limit hit (%.2f <= -%.2f) at %s, locking out trading",
				out.RealizedPnL, e.maxDailyLoss, tradeTime.Format(time.Kitchen))
		}
		out.LockedOut = true
		overshoot := -e.maxDailyLoss - out.RealizedPnL
		if overshoot > 0 {
			out.AdjustedPnL = tradePnL + overshoot
			out.RealizedPnL = -e.maxDailyLoss
		}
	}
	return out
}
