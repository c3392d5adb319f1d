// Package drift implements the engine's two read-only observers:
// successive-assessment drift within a session, and grounded calibration
// across sessions. Neither observer mutates a reflex; both only read the
// store and (for calibration) append to the calibration_trajectory table.
package drift

import (
	"math"

	"github.com/Nubaeon/empirica/internal/models"
)

// Severity classifies successive-assessment drift magnitude. Exactly 0.30
// classifies moderate and exactly 0.60 severe; boundary values round up
// to the stricter bucket.
type Severity string

const (
	SeverityInsufficientData Severity = "insufficient_data"
	SeverityMinor            Severity = "minor"
	SeverityModerate         Severity = "moderate"
	SeveritySevere           Severity = "severe"
)

// DefaultWindow is the default reflex count successive-assessment drift
// looks back over.
const DefaultWindow = 5

// Config controls drift detection. Window is configurable; default 5.
type Config struct {
	Window int
}

// DefaultConfig returns the documented default.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow}
}

// Report is the result of a successive-assessment drift computation.
type Report struct {
	Severity      Severity           `json:"severity"`
	MeanAbsChange map[string]float64 `json:"mean_abs_change,omitempty"`
	Magnitude     float64            `json:"magnitude"`
	SafeToProceed bool               `json:"safe_to_proceed"`
	SampleCount   int                `json:"sample_count"`
}

// ClassifySeverity buckets a drift magnitude:
// < 0.3 minor, [0.3, 0.6) moderate, >= 0.6 severe.
func ClassifySeverity(magnitude float64) Severity {
	switch {
	case magnitude >= 0.6:
		return SeveritySevere
	case magnitude >= 0.3:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// DetectSuccessive computes vector-wise mean absolute change across the last
// N reflexes (most recent first in `recent`) and classifies severity. Fewer
// than cfg.Window prior reflexes yields insufficient_data and never
// blocks; drift fails open.
func DetectSuccessive(recent []*models.EpistemicVectors, cfg Config) Report {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if len(recent) < cfg.Window {
		return Report{
			Severity:      SeverityInsufficientData,
			SafeToProceed: true,
			SampleCount:   len(recent),
		}
	}

	window := recent[:cfg.Window]
	names := models.VectorNames()
	meanAbs := make(map[string]float64, len(names))

	// Magnitude is the worst per-vector mean change, not the mean across
	// all thirteen: a violent swing on two vectors is severe drift even
	// while the other eleven sit still.
	var magnitude float64
	for _, name := range names {
		var sum float64
		pairs := 0
		for i := 1; i < len(window); i++ {
			cur := window[i-1].ToMap()[name]
			prev := window[i].ToMap()[name]
			sum += math.Abs(cur - prev)
			pairs++
		}
		avg := 0.0
		if pairs > 0 {
			avg = sum / float64(pairs)
		}
		meanAbs[name] = avg
		if avg > magnitude {
			magnitude = avg
		}
	}

	severity := ClassifySeverity(magnitude)
	return Report{
		Severity:      severity,
		MeanAbsChange: meanAbs,
		Magnitude:     magnitude,
		SafeToProceed: severity != SeveritySevere,
		SampleCount:   len(window),
	}
}

// EvidenceSource is one external-grounding record supplied at POSTFLIGHT.
type EvidenceSource struct {
	Metric          string   `json:"metric"`
	NormalisedValue float64  `json:"normalised_value"` // in [0,1]
	SupportsVectors []string `json:"supports_vectors"`
	Quality         float64  `json:"quality"`
}

// Track distinguishes noetic (CHECK-phase) from praxic (POSTFLIGHT-phase)
// calibration.
type Track string

const (
	TrackNoetic Track = "noetic"
	TrackPraxic Track = "praxic"
)

// TrackForPhase routes a reflex phase to its calibration track. CHECK
// reflexes feed the noetic track (investigation quality); POSTFLIGHT
// reflexes feed the praxic track (action quality).
func TrackForPhase(phase string) Track {
	if phase == string(models.PhaseCheck) {
		return TrackNoetic
	}
	return TrackPraxic
}

// RunningStat is a Welford's-algorithm online mean/variance accumulator.
// Backs the Bayesian running mean/variance kept per
// (ai_id, vector, track); see DESIGN.md for the stdlib-only rationale.
type RunningStat struct {
	Count int64
	Mean  float64
	M2    float64 // sum of squares of differences from the mean
}

// Update folds one new observation (self-assessed value minus grounded
// value) into the running statistic.
func (s *RunningStat) Update(gap float64) {
	s.Count++
	delta := gap - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := gap - s.Mean
	s.M2 += delta * delta2
}

// Variance returns the current sample variance, or 0 with fewer than two
// observations.
func (s *RunningStat) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// Offset returns the additive calibration offset applied to subsequent
// readiness-gate comparisons: the running mean gap, negated so
// a historically overconfident self-assessment (gap = self - grounded > 0)
// lowers the effective know score used at the gate.
func (s *RunningStat) Offset() float64 {
	if s.Count == 0 {
		return 0
	}
	return -s.Mean
}

// ComputeGaps derives one self-assessed-minus-grounded gap per vector named
// in an evidence source's SupportsVectors, weighted by the source's quality.
func ComputeGaps(selfAssessed *models.EpistemicVectors, sources []EvidenceSource) map[string]float64 {
	gaps := make(map[string]float64)
	selfMap := selfAssessed.ToMap()
	weighted := make(map[string]float64)
	weights := make(map[string]float64)

	for _, src := range sources {
		q := src.Quality
		if q <= 0 {
			q = 1.0
		}
		for _, vec := range src.SupportsVectors {
			selfVal, ok := selfMap[vec]
			if !ok {
				continue
			}
			weighted[vec] += (selfVal - src.NormalisedValue) * q
			weights[vec] += q
		}
	}
	for vec, w := range weighted {
		if weights[vec] > 0 {
			gaps[vec] = w / weights[vec]
		}
	}
	return gaps
}
