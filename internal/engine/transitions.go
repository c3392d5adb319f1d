package engine

import "fmt"

// TransactionState is one of the NEW..CLOSED states of the CASCADE
// state machine. It is always derived from the reflexes already written for
// a transaction_id; the engine never persists it directly.
type TransactionState string

const (
	StateNew                 TransactionState = "NEW"
	StatePreflightSubmitted  TransactionState = "PREFLIGHT_SUBMITTED"
	StateCheckSubmitted      TransactionState = "CHECK_SUBMITTED"
	StateActSubmitted        TransactionState = "ACT_SUBMITTED"
	StatePostflightSubmitted TransactionState = "POSTFLIGHT_SUBMITTED"
	StateClosed              TransactionState = "CLOSED"
)

// Operation names used in TransitionError.ExpectedNextOps, matching the
// pkg/api operation table.
const (
	OpSubmitPreflight  = "reflex.submit_preflight"
	OpSubmitCheck      = "reflex.submit_check"
	OpSubmitAct        = "reflex.submit_act"
	OpSubmitPostflight = "reflex.submit_postflight"
)

// CheckDecision is the decision an agent attaches to a CHECK submission.
type CheckDecision string

const (
	DecisionProceed            CheckDecision = "proceed"
	DecisionProceedWithCaution CheckDecision = "proceed_with_caution"
	DecisionInvestigate        CheckDecision = "investigate"
)

// permitsAct reports whether a CHECK decision allows moving to ACT.
func (d CheckDecision) permitsAct() bool {
	return d == DecisionProceed || d == DecisionProceedWithCaution
}

// TransactionSnapshot is the minimal view of a transaction's reflex history
// the engine needs to derive state and validate the next submission. Callers
// (pkg/api) build this from internal/db query results.
type TransactionSnapshot struct {
	HasPreflight      bool
	CheckRounds       int // count of CHECK reflexes submitted so far
	LastCheckDecision CheckDecision
	HasAct            bool
	HasPostflight     bool
}

// DeriveState computes the current CASCADE state from a transaction's
// reflex history.
func DeriveState(s TransactionSnapshot) TransactionState {
	switch {
	case s.HasPostflight:
		return StateClosed
	case s.HasAct:
		return StateActSubmitted
	case s.CheckRounds > 0:
		return StateCheckSubmitted
	case s.HasPreflight:
		return StatePreflightSubmitted
	default:
		return StateNew
	}
}

// expectedNextOps lists the legal operations from each state, used to
// populate TransitionError.ExpectedNextOps.
var expectedNextOps = map[TransactionState][]string{
	StateNew:                 {OpSubmitPreflight},
	StatePreflightSubmitted:  {OpSubmitCheck},
	StateCheckSubmitted:      {OpSubmitCheck, OpSubmitAct, OpSubmitPostflight},
	StateActSubmitted:        {OpSubmitPostflight},
	StatePostflightSubmitted: {},
	StateClosed:              {},
}

// TransitionError is returned for any operation illegal in the current
// state. It never results in a written reflex.
type TransitionError struct {
	CurrentPhase    TransactionState
	ExpectedNextOps []string
	Reason          string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal_transition: %s (current phase %s, expected one of %v)", e.Reason, e.CurrentPhase, e.ExpectedNextOps)
}

func illegal(state TransactionState, reason string) *TransitionError {
	return &TransitionError{
		CurrentPhase:    state,
		ExpectedNextOps: expectedNextOps[state],
		Reason:          reason,
	}
}

// ValidateSubmitPreflight checks whether a PREFLIGHT may be submitted.
// Two PREFLIGHTs for one transaction is illegal; a new
// PREFLIGHT instead starts a new transaction_id/cascade.
func ValidateSubmitPreflight(s TransactionSnapshot) *TransitionError {
	state := DeriveState(s)
	if state != StateNew {
		return illegal(state, "a PREFLIGHT already exists for this transaction")
	}
	return nil
}

// ValidateSubmitCheck checks whether a CHECK may be submitted at the given
// round. Rounds increase strictly; round must equal CheckRounds+1.
// Concurrent submitters are serialised by the store and the second gets
// the next free round, so by the time this validates, round is always
// the next integer.
func ValidateSubmitCheck(s TransactionSnapshot, round int) *TransitionError {
	state := DeriveState(s)
	if state != StatePreflightSubmitted && state != StateCheckSubmitted {
		return illegal(state, "CHECK requires a prior PREFLIGHT in this transaction")
	}
	if round != s.CheckRounds+1 {
		return illegal(state, fmt.Sprintf("CHECK round must be %d, got %d", s.CheckRounds+1, round))
	}
	return nil
}

// ValidateSubmitAct checks whether ACT may be submitted: only legal after a
// CHECK whose decision was proceed or proceed_with_caution.
func ValidateSubmitAct(s TransactionSnapshot) *TransitionError {
	state := DeriveState(s)
	if state != StateCheckSubmitted {
		return illegal(state, "ACT requires a prior CHECK in this transaction")
	}
	if !s.LastCheckDecision.permitsAct() {
		return illegal(state, fmt.Sprintf("last CHECK decision %q does not permit ACT", s.LastCheckDecision))
	}
	return nil
}

// ValidateSubmitPostflight checks whether POSTFLIGHT may close the
// transaction. Legal after ACT, or directly after a CHECK whose decision
// permits acting — the act itself happens outside the engine and an agent
// is not required to submit a separate ACT reflex for it. A POSTFLIGHT with
// no prior PREFLIGHT, or before any proceed-decision CHECK, is
// illegal_transition.
func ValidateSubmitPostflight(s TransactionSnapshot) *TransitionError {
	state := DeriveState(s)
	switch state {
	case StateActSubmitted:
		return nil
	case StateCheckSubmitted:
		if !s.LastCheckDecision.permitsAct() {
			return illegal(state, fmt.Sprintf("last CHECK decision %q does not permit closing the transaction", s.LastCheckDecision))
		}
		return nil
	default:
		return illegal(state, "POSTFLIGHT requires a PREFLIGHT and a proceed-decision CHECK in this transaction")
	}
}
