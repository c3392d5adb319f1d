package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveState(t *testing.T) {
	assert.Equal(t, StateNew, DeriveState(TransactionSnapshot{}))
	assert.Equal(t, StatePreflightSubmitted, DeriveState(TransactionSnapshot{HasPreflight: true}))
	assert.Equal(t, StateCheckSubmitted, DeriveState(TransactionSnapshot{HasPreflight: true, CheckRounds: 2}))
	assert.Equal(t, StateActSubmitted, DeriveState(TransactionSnapshot{HasPreflight: true, CheckRounds: 1, HasAct: true}))
	assert.Equal(t, StateClosed, DeriveState(TransactionSnapshot{HasPreflight: true, CheckRounds: 1, HasPostflight: true}))
}

func TestValidateSubmitPreflight(t *testing.T) {
	assert.Nil(t, ValidateSubmitPreflight(TransactionSnapshot{}))

	err := ValidateSubmitPreflight(TransactionSnapshot{HasPreflight: true})
	require.NotNil(t, err)
	assert.Equal(t, StatePreflightSubmitted, err.CurrentPhase)
	assert.Contains(t, err.ExpectedNextOps, OpSubmitCheck)
}

func TestValidateSubmitCheckRounds(t *testing.T) {
	snap := TransactionSnapshot{HasPreflight: true}
	assert.Nil(t, ValidateSubmitCheck(snap, 1))

	err := ValidateSubmitCheck(snap, 2)
	require.NotNil(t, err, "round skipping is illegal")

	snap.CheckRounds = 1
	assert.Nil(t, ValidateSubmitCheck(snap, 2))
	require.NotNil(t, ValidateSubmitCheck(snap, 1), "re-submitting an existing round is illegal")
}

func TestValidateSubmitCheckNeedsPreflight(t *testing.T) {
	err := ValidateSubmitCheck(TransactionSnapshot{}, 1)
	require.NotNil(t, err)
	assert.Equal(t, StateNew, err.CurrentPhase)
	assert.Equal(t, []string{OpSubmitPreflight}, err.ExpectedNextOps)
}

func TestValidateSubmitAct(t *testing.T) {
	snap := TransactionSnapshot{HasPreflight: true, CheckRounds: 1, LastCheckDecision: DecisionInvestigate}
	err := ValidateSubmitAct(snap)
	require.NotNil(t, err, "an investigate decision does not permit ACT")

	snap.LastCheckDecision = DecisionProceed
	assert.Nil(t, ValidateSubmitAct(snap))

	snap.LastCheckDecision = DecisionProceedWithCaution
	assert.Nil(t, ValidateSubmitAct(snap))

	require.NotNil(t, ValidateSubmitAct(TransactionSnapshot{HasPreflight: true}), "ACT needs a CHECK first")
}

func TestValidateSubmitPostflight(t *testing.T) {
	err := ValidateSubmitPostflight(TransactionSnapshot{})
	require.NotNil(t, err, "POSTFLIGHT with no PREFLIGHT is illegal")
	assert.Equal(t, StateNew, err.CurrentPhase)

	require.NotNil(t, ValidateSubmitPostflight(TransactionSnapshot{HasPreflight: true}),
		"POSTFLIGHT straight after PREFLIGHT is illegal")

	require.NotNil(t, ValidateSubmitPostflight(TransactionSnapshot{
		HasPreflight: true, CheckRounds: 1, LastCheckDecision: DecisionInvestigate,
	}), "an investigate decision does not close the transaction")

	assert.Nil(t, ValidateSubmitPostflight(TransactionSnapshot{
		HasPreflight: true, CheckRounds: 1, LastCheckDecision: DecisionProceed,
	}), "POSTFLIGHT is legal directly after a proceed CHECK")

	assert.Nil(t, ValidateSubmitPostflight(TransactionSnapshot{
		HasPreflight: true, CheckRounds: 1, LastCheckDecision: DecisionProceed, HasAct: true,
	}))
}

func TestResubmitSamePhaseIsIllegal(t *testing.T) {
	// submit(x); submit(x) must fail the second time and leave the
	// snapshot-derived state unchanged.
	snap := TransactionSnapshot{HasPreflight: true}
	before := DeriveState(snap)
	require.NotNil(t, ValidateSubmitPreflight(snap))
	assert.Equal(t, before, DeriveState(snap))
}
