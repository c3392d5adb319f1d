package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nubaeon/empirica/internal/models"
)

func scenarioVectors() *models.EpistemicVectors {
	return &models.EpistemicVectors{
		Engagement: 0.8,
		Know:       0.6, Do: 0.7, Context: 0.75,
		Clarity: 0.7, Coherence: 0.8, Signal: 0.7, Density: 0.4,
		State: 0.6, Change: 0.2, Completion: 0.0, Impact: 0.5,
		Uncertainty: 0.4,
	}
}

func TestConfidenceFormula(t *testing.T) {
	v := scenarioVectors()
	want := 0.35*((0.6+0.7+0.75)/3) + 0.25*((0.7+0.8+0.7+0.4)/4) + 0.25*((0.6+0.2+0.0+0.5)/4) + 0.15*0.8
	assert.InDelta(t, want, Confidence(v), 1e-12)
}

func TestConfidenceIgnoresUncertainty(t *testing.T) {
	v := scenarioVectors()
	base := Confidence(v)
	v.Uncertainty = 0.95
	assert.Equal(t, base, Confidence(v), "uncertainty is a gate input, not a confidence component")
}

func TestEngagementGateBoundary(t *testing.T) {
	thresholds := DefaultThresholds()

	v := scenarioVectors()
	v.Engagement = 0.60
	result := EvaluateEngagementGate(v, thresholds)
	assert.True(t, result.Passed, "exactly 0.60 passes")
	assert.Equal(t, "proceed", result.RecommendedAction)

	v.Engagement = 0.5999999
	result = EvaluateEngagementGate(v, thresholds)
	assert.False(t, result.Passed)
	assert.Equal(t, "investigate", result.RecommendedAction,
		"a failed engagement gate always recommends investigation")
}

func TestReadinessGate(t *testing.T) {
	thresholds := DefaultThresholds()

	v := scenarioVectors()
	v.Know = 0.70
	v.Uncertainty = 0.35
	result := EvaluateReadinessGate(v, thresholds, 0)
	assert.True(t, result.Passed, "thresholds are inclusive")

	v.Know = 0.69
	result = EvaluateReadinessGate(v, thresholds, 0)
	assert.False(t, result.Passed)

	v.Know = 0.80
	v.Uncertainty = 0.36
	result = EvaluateReadinessGate(v, thresholds, 0)
	assert.False(t, result.Passed, "high uncertainty fails the gate regardless of know")
}

func TestReadinessGateCalibrationOffset(t *testing.T) {
	thresholds := DefaultThresholds()
	v := scenarioVectors()
	v.Know = 0.72
	v.Uncertainty = 0.2

	assert.True(t, EvaluateReadinessGate(v, thresholds, 0).Passed)

	// A historically overconfident agent carries a negative offset: its
	// raw know score must clear a higher effective bar.
	result := EvaluateReadinessGate(v, thresholds, -0.05)
	assert.False(t, result.Passed)
	assert.Equal(t, -0.05, result.CalibrationApplied)
}
