package engine

import "errors"

// Outcome is the engine's terminal verdict for one public operation. Every
// code path that observed a fill reports one of the protected, flattened or
// lockdown outcomes; a bare failure outcome always implies zero exposure.
type Outcome string

const (
	// entry outcomes
	OutcomeFilledProtected                 Outcome = "FILLED_PROTECTED"
	OutcomePartialFilledProtected          Outcome = "PARTIAL_FILLED_PROTECTED"
	OutcomePartialFilledFlattened          Outcome = "PARTIAL_FILLED_FLATTENED"
	OutcomeFilledFlattenedAfterStopFailure Outcome = "FILLED_FLATTENED_AFTER_STOP_FAILURE"
	OutcomeRejected                        Outcome = "REJECTED"
	OutcomeNoFill                          Outcome = "NO_FILL"

	// exit outcomes
	OutcomeExited                   Outcome = "EXITED"
	OutcomeAlreadyFlatByStop        Outcome = "ALREADY_FLAT_BY_STOP"
	OutcomePostCloseInvariantFailed Outcome = "FILLED_POST_CLOSE_INVARIANT_FAILED"
	OutcomeExitPendingRecovery      Outcome = "EXIT_PENDING_RECOVERY"
	OutcomeExitRetryRequired        Outcome = "EXIT_RETRY_REQUIRED"

	// protective stop monitor outcomes
	OutcomeStopActive            Outcome = "STOP_ACTIVE"
	OutcomeStopFilled            Outcome = "STOP_FILLED"
	OutcomeStopInvalidatedExited Outcome = "STOP_INVALIDATED_EXITED"

	// shared
	OutcomeEmergencyLockdown Outcome = "EMERGENCY_LOCKDOWN"
	OutcomeNoTrade           Outcome = "NO_TRADE"
)

// Result is the structured return of every public engine operation.
// Success=false with RequiresEmergencyRemediation=false always means no
// unmanaged exposure remains; callers must treat the remediation flag as a
// distinct, fatal condition rather than an ordinary failure.
type Result struct {
	Success      bool    `json:"success"`
	State        Outcome `json:"state"`
	FilledQty    int     `json:"filled_qty,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
	ExitPrice    float64 `json:"exit_price,omitempty"`
	PnL          float64 `json:"pnl,omitempty"`
	Warning      string  `json:"warning,omitempty"`
	Err          error   `json:"-"`
	ErrText      string  `json:"error,omitempty"`

	RequiresEmergencyRemediation bool `json:"requires_emergency_remediation,omitempty"`
}

func failure(state Outcome, err error) Result {
	return Result{Success: false, State: state, Err: err, ErrText: errText(err)}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	// ErrTradingDisabled is returned when the session forbids new entries
	// (lockdown, risk lockout or pending exit recovery).
	ErrTradingDisabled = errors.New("trading disabled for this session")
	// ErrTradeAlreadyOpen enforces the one-trade-per-session design.
	ErrTradeAlreadyOpen = errors.New("a trade is already open")
	// ErrNoOpenTrade is returned by exit/monitor calls with nothing to act on.
	ErrNoOpenTrade = errors.New("no open trade")
	// ErrExitUnconfirmed means the close order did not reach a confirmed
	// fill; the position's fate is unknown and the caller must retry.
	ErrExitUnconfirmed = errors.New("exit not confirmed, retry required")
)
