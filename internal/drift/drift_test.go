package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nubaeon/empirica/internal/models"
)

func flatVectors(val float64) *models.EpistemicVectors {
	v := &models.EpistemicVectors{}
	m := map[string]float64{}
	for _, name := range models.VectorNames() {
		m[name] = val
	}
	v.FromMap(m)
	return v
}

func TestClassifySeverityBoundaries(t *testing.T) {
	assert.Equal(t, SeverityMinor, ClassifySeverity(0.29999))
	assert.Equal(t, SeverityModerate, ClassifySeverity(0.30), "exactly 0.30 is moderate")
	assert.Equal(t, SeverityModerate, ClassifySeverity(0.59999))
	assert.Equal(t, SeveritySevere, ClassifySeverity(0.60), "exactly 0.60 is severe")
}

func TestDetectSuccessiveInsufficientData(t *testing.T) {
	recent := []*models.EpistemicVectors{flatVectors(0.5), flatVectors(0.9)}
	report := DetectSuccessive(recent, DefaultConfig())
	assert.Equal(t, SeverityInsufficientData, report.Severity)
	assert.True(t, report.SafeToProceed, "drift fails open on missing data")
	assert.Equal(t, 2, report.SampleCount)
}

func TestDetectSuccessiveStable(t *testing.T) {
	recent := make([]*models.EpistemicVectors, 5)
	for i := range recent {
		recent[i] = flatVectors(0.6)
	}
	report := DetectSuccessive(recent, DefaultConfig())
	assert.Equal(t, SeverityMinor, report.Severity)
	assert.True(t, report.SafeToProceed)
	assert.Zero(t, report.Magnitude)
}

func TestDetectSuccessiveSevereOnTwoVectors(t *testing.T) {
	// Only know and context swing; the other eleven vectors sit still.
	// Magnitude is the worst per-vector mean change, so this is severe.
	recent := make([]*models.EpistemicVectors, 5)
	for i := range recent {
		v := flatVectors(0.5)
		if i%2 == 0 {
			v.Know = 0.9
			v.Context = 0.9
		} else {
			v.Know = 0.2
			v.Context = 0.2
		}
		recent[i] = v
	}
	report := DetectSuccessive(recent, DefaultConfig())
	assert.Equal(t, SeveritySevere, report.Severity)
	assert.False(t, report.SafeToProceed)
	assert.InDelta(t, 0.7, report.MeanAbsChange["know"], 1e-12)
	assert.Zero(t, report.MeanAbsChange["clarity"])
}

func TestRunningStatWelford(t *testing.T) {
	samples := []float64{0.1, 0.3, -0.2, 0.4, 0.0}
	stat := &RunningStat{}
	for _, s := range samples {
		stat.Update(s)
	}

	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	var m2 float64
	for _, s := range samples {
		m2 += (s - mean) * (s - mean)
	}
	wantVar := m2 / float64(len(samples)-1)

	assert.InDelta(t, mean, stat.Mean, 1e-12)
	assert.InDelta(t, wantVar, stat.Variance(), 1e-12)
	assert.Equal(t, int64(5), stat.Count)
}

func TestRunningStatOffsetSign(t *testing.T) {
	stat := &RunningStat{}
	assert.Zero(t, stat.Offset())

	// Self-assessed consistently above grounded: positive gap, so the
	// offset applied at the gate must be negative.
	stat.Update(0.2)
	stat.Update(0.2)
	assert.InDelta(t, -0.2, stat.Offset(), 1e-12)
}

func TestVarianceNeedsTwoSamples(t *testing.T) {
	stat := &RunningStat{}
	stat.Update(0.5)
	assert.Zero(t, stat.Variance())
}

func TestComputeGaps(t *testing.T) {
	self := flatVectors(0.8)
	sources := []EvidenceSource{
		{Metric: "test_pass_rate", NormalisedValue: 0.5, SupportsVectors: []string{"know", "completion"}, Quality: 1.0},
		{Metric: "artifact_count", NormalisedValue: 0.7, SupportsVectors: []string{"know"}, Quality: 3.0},
	}
	gaps := ComputeGaps(self, sources)

	// know: ((0.8-0.5)*1 + (0.8-0.7)*3) / 4
	assert.InDelta(t, (0.3+0.3)/4.0, gaps["know"], 1e-12)
	assert.InDelta(t, 0.3, gaps["completion"], 1e-12)
	_, ok := gaps["clarity"]
	assert.False(t, ok, "unsupported vectors receive no gap")
}

func TestComputeGapsIgnoresUnknownVector(t *testing.T) {
	self := flatVectors(0.8)
	gaps := ComputeGaps(self, []EvidenceSource{
		{Metric: "m", NormalisedValue: 0.1, SupportsVectors: []string{"not_a_vector"}, Quality: 1},
	})
	assert.Empty(t, gaps)
}

func TestTrackForPhase(t *testing.T) {
	assert.Equal(t, TrackNoetic, TrackForPhase("CHECK"))
	assert.Equal(t, TrackPraxic, TrackForPhase("POSTFLIGHT"))
	assert.Equal(t, TrackPraxic, TrackForPhase("ACT"))
}

func TestDetectSuccessiveZeroWindowUsesDefault(t *testing.T) {
	recent := make([]*models.EpistemicVectors, DefaultWindow)
	for i := range recent {
		recent[i] = flatVectors(0.5)
	}
	report := DetectSuccessive(recent, Config{})
	require.NotEqual(t, SeverityInsufficientData, report.Severity)
	assert.False(t, math.IsNaN(report.Magnitude))
}
