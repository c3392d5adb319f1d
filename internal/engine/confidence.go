// Package engine implements the CASCADE state machine: gate predicates,
// transition rules, and round semantics, plus the canonical confidence
// formula the gates read from.
package engine

import "github.com/Nubaeon/empirica/internal/models"

// Thresholds are the configurable gate thresholds. A deployment may
// override the defaults but the override must be documented; pkg/api logs
// any non-default values at open time so logs carry the audit trail.
type Thresholds struct {
	Know        float64 // default 0.70
	Uncertainty float64 // default 0.35
	Engagement  float64 // default 0.60
}

// DefaultThresholds returns the documented default gate thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Know:        models.DefaultKnowThreshold,
		Uncertainty: models.DefaultUncertaintyMax,
		Engagement:  models.EngagementGateThreshold,
	}
}

// Confidence computes the canonical overall confidence:
// 0.35*foundation + 0.25*comprehension + 0.25*execution + 0.15*engagement.
// Uncertainty is never folded into this sum; it is used directly in gate
// predicates. This is the formula gate evaluation reads.
// EpistemicVectors.OverallConfidence (with its uncertainty penalty term)
// serves only the CLI's display and is never consulted here.
func Confidence(v *models.EpistemicVectors) float64 {
	foundation := (v.Know + v.Do + v.Context) / 3.0
	comprehension := (v.Clarity + v.Coherence + v.Signal + v.Density) / 4.0
	execution := (v.State + v.Change + v.Completion + v.Impact) / 4.0
	return 0.35*foundation + 0.25*comprehension + 0.25*execution + 0.15*v.Engagement
}

// GateResult is the outcome of evaluating a phase-entry gate.
type GateResult struct {
	Passed             bool    `json:"passed"`
	Gate               string  `json:"gate"` // "engagement" or "readiness"
	RecommendedAction  string  `json:"recommended_action"`
	Confidence         float64 `json:"confidence"`
	CalibrationApplied float64 `json:"calibration_applied,omitempty"`
}

// EvaluateEngagementGate is the PREFLIGHT gate: engagement >= 0.60 is
// required to proceed; failure always recommends INVESTIGATE regardless
// of any other score.
func EvaluateEngagementGate(v *models.EpistemicVectors, t Thresholds) GateResult {
	passed := v.Engagement >= t.Engagement
	action := "proceed"
	if !passed {
		action = "investigate"
	}
	return GateResult{
		Passed:            passed,
		Gate:              "engagement",
		RecommendedAction: action,
		Confidence:        Confidence(v),
	}
}

// EvaluateReadinessGate is the CHECK gate: know >= tau_know AND
// uncertainty <= tau_unc. calibrationOffset (from internal/drift) is
// applied additively to the know comparison, so a historically
// overconfident agent needs a higher raw know score to pass.
func EvaluateReadinessGate(v *models.EpistemicVectors, t Thresholds, calibrationOffset float64) GateResult {
	adjustedKnow := v.Know + calibrationOffset
	passed := adjustedKnow >= t.Know && v.Uncertainty <= t.Uncertainty
	action := "proceed"
	if !passed {
		action = "investigate"
	}
	return GateResult{
		Passed:             passed,
		Gate:               "readiness",
		RecommendedAction:  action,
		Confidence:         Confidence(v),
		CalibrationApplied: calibrationOffset,
	}
}
