package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierScores(t *testing.T) {
	v := &EpistemicVectors{
		Know: 0.6, Do: 0.7, Context: 0.8,
		Clarity: 0.4, Coherence: 0.6, Signal: 0.8, Density: 0.2,
		State: 0.5, Change: 0.5, Completion: 0.0, Impact: 1.0,
	}
	assert.InDelta(t, 0.7, v.FoundationScore(), 1e-12)
	assert.InDelta(t, 0.5, v.ComprehensionScore(), 1e-12)
	assert.InDelta(t, 0.5, v.ExecutionScore(), 1e-12)
}

func TestInRangeBoundaries(t *testing.T) {
	v := NewDefaultVectors()
	v.Know = 0.0
	v.Do = 1.0
	assert.True(t, v.InRange(), "exact 0 and exact 1 are accepted")

	v.Know = -0.000001
	assert.False(t, v.InRange())

	v.Know = 0.5
	v.Impact = 1.000001
	assert.False(t, v.InRange())
}

func TestDelta(t *testing.T) {
	before := NewDefaultVectors()
	before.Know = 0.6
	before.Uncertainty = 0.4

	after := NewDefaultVectors()
	after.Know = 0.9
	after.Uncertainty = 0.15

	delta := after.Delta(before)
	assert.InDelta(t, 0.3, delta.Know, 1e-12)
	assert.InDelta(t, -0.25, delta.Uncertainty, 1e-12)
	assert.Zero(t, delta.Do)

	assert.Same(t, after, after.Delta(nil), "nil comparand returns the receiver")
}

func TestMapRoundTrip(t *testing.T) {
	v := &EpistemicVectors{
		Engagement: 0.8, Know: 0.6, Do: 0.7, Context: 0.75,
		Clarity: 0.7, Coherence: 0.8, Signal: 0.7, Density: 0.4,
		State: 0.6, Change: 0.2, Completion: 0.0, Impact: 0.5,
		Uncertainty: 0.4,
	}
	m := v.ToMap()
	require.Len(t, m, 13)

	var back EpistemicVectors
	back.FromMap(m)
	assert.Equal(t, *v, back)
}

func TestEngagementGate(t *testing.T) {
	v := NewDefaultVectors()

	v.Engagement = 0.60
	assert.True(t, v.PassesEngagementGate(), "exactly 0.60 passes")

	v.Engagement = 0.5999999
	assert.False(t, v.PassesEngagementGate())
}

func TestOverallConfidenceClamps(t *testing.T) {
	v := &EpistemicVectors{Uncertainty: 1.0}
	assert.GreaterOrEqual(t, v.OverallConfidence(), 0.0)

	v = &EpistemicVectors{
		Engagement: 1, Know: 1, Do: 1, Context: 1,
		Clarity: 1, Coherence: 1, Signal: 1, Density: 1,
		State: 1, Change: 1, Completion: 1, Impact: 1,
	}
	assert.LessOrEqual(t, v.OverallConfidence(), 1.0)
}

func TestRecommendedAction(t *testing.T) {
	v := NewDefaultVectors()
	v.Engagement = 0.3
	assert.Equal(t, ActionStop, v.RecommendedAction())

	v = NewDefaultVectors()
	v.Engagement = 0.9
	v.Coherence = 0.2
	assert.Equal(t, ActionReset, v.RecommendedAction())

	v = NewDefaultVectors()
	v.Engagement = 0.9
	v.Know = 0.9
	v.Uncertainty = 0.2
	assert.Equal(t, ActionProceed, v.RecommendedAction())
}

func TestVectorNamesStable(t *testing.T) {
	names := VectorNames()
	require.Len(t, names, 13)
	names[0] = "mutated"
	assert.Equal(t, "engagement", VectorNames()[0], "callers cannot mutate the canonical list")
}
