// Package validator parses submitted assessment payloads and normalises
// them into the typed Vector Model. It accepts two wire shapes: the
// canonical "nested" form (five top-level tier keys, each carrying
// per-vector {score, rationale, evidence?}) and a legacy flat form (a bare
// EpistemicVectors JSON plus one shared rationale) kept for backward
// compatibility. Both normalise to an identical NormalizedAssessment.
package validator

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Nubaeon/empirica/internal/models"
)

// ErrorType mirrors the pkg/api error taxonomy's invalid_input case; this
// package never returns raw errors to a caller outside the package boundary,
// only *ValidationError, so pkg/api can map it to the envelope directly.
const ErrorType = "invalid_input"

// ValidationError reports why a submitted assessment was rejected.
type ValidationError struct {
	Reason string
	Field  string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NormalizedAssessment is the typed result of validating a submission: a
// flat vector map plus a per-vector rationale map, independent of which wire
// form the caller used.
type NormalizedAssessment struct {
	Vectors   *models.EpistemicVectors
	Rationale map[string]string
	Evidence  map[string]string
	Warnings  []string
}

// nestedVector is one {score, rationale, evidence?} entry in the nested form.
type nestedVector struct {
	Score     *float64 `json:"score"`
	Rationale *string  `json:"rationale"`
	Evidence  *string  `json:"evidence,omitempty"`
}

// nestedTier groups related nestedVectors under one of the five top-level
// tier keys. The tier's member vector names are fixed by tierMembers below.
type nestedTier map[string]nestedVector

// tierMembers maps each top-level nested-form key to the vector names it
// must carry.
var tierMembers = map[string][]string{
	"engagement":    {"engagement"},
	"foundation":    {"know", "do", "context"},
	"comprehension": {"clarity", "coherence", "signal", "density"},
	"execution":     {"state", "change", "completion", "impact"},
	"uncertainty":   {"uncertainty"},
}

// ParseNested validates and normalises a submission in the nested wire form.
func ParseNested(raw []byte) (*NormalizedAssessment, *ValidationError) {
	var payload map[string]nestedTier
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, invalid("", "malformed JSON: "+err.Error())
	}

	vectors := &models.EpistemicVectors{}
	rationale := make(map[string]string)
	evidence := make(map[string]string)
	vecMap := make(map[string]float64)

	for tierKey, members := range tierMembers {
		tier, ok := payload[tierKey]
		if !ok {
			return nil, invalid(tierKey, "missing required tier")
		}
		for _, vecName := range members {
			entry, ok := tier[vecName]
			if !ok {
				return nil, invalid(tierKey+"."+vecName, "missing required vector")
			}
			if entry.Score == nil {
				return nil, invalid(tierKey+"."+vecName, "missing score")
			}
			if *entry.Score < 0 || *entry.Score > 1 {
				return nil, invalid(tierKey+"."+vecName, "score out of range [0,1]")
			}
			if entry.Rationale == nil || *entry.Rationale == "" {
				return nil, invalid(tierKey+"."+vecName, "rationale is required and must not be empty")
			}
			vecMap[vecName] = *entry.Score
			rationale[vecName] = *entry.Rationale
			if entry.Evidence != nil {
				evidence[vecName] = *entry.Evidence
			}
		}
	}

	vectors.FromMap(vecMap)

	return &NormalizedAssessment{
		Vectors:   vectors,
		Rationale: rationale,
		Evidence:  evidence,
	}, nil
}

// legacyFlat is the historical wire shape: a bare vector map plus
// a single session-level rationale string, no per-vector rationale.
type legacyFlat struct {
	Engagement  *float64 `json:"engagement"`
	Know        *float64 `json:"know"`
	Do          *float64 `json:"do"`
	Context     *float64 `json:"context"`
	Clarity     *float64 `json:"clarity"`
	Coherence   *float64 `json:"coherence"`
	Signal      *float64 `json:"signal"`
	Density     *float64 `json:"density"`
	State       *float64 `json:"state"`
	Change      *float64 `json:"change"`
	Completion  *float64 `json:"completion"`
	Impact      *float64 `json:"impact"`
	Uncertainty *float64 `json:"uncertainty"`
	Rationale   *string  `json:"rationale"`
	Evidence    *string  `json:"evidence,omitempty"`
}

// ParseLegacyFlat validates and normalises a submission in the legacy flat
// wire form. Every vector shares the single top-level rationale string
// (legacy submissions never carried one rationale per vector).
func ParseLegacyFlat(raw []byte) (*NormalizedAssessment, *ValidationError) {
	var payload legacyFlat
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, invalid("", "malformed JSON: "+err.Error())
	}
	if payload.Rationale == nil || *payload.Rationale == "" {
		return nil, invalid("rationale", "rationale is required and must not be empty")
	}

	fields := map[string]*float64{
		"engagement": payload.Engagement, "know": payload.Know, "do": payload.Do,
		"context": payload.Context, "clarity": payload.Clarity, "coherence": payload.Coherence,
		"signal": payload.Signal, "density": payload.Density, "state": payload.State,
		"change": payload.Change, "completion": payload.Completion, "impact": payload.Impact,
		"uncertainty": payload.Uncertainty,
	}

	vecMap := make(map[string]float64)
	names := models.VectorNames()
	sort.Strings(names)
	for _, name := range names {
		val := fields[name]
		if val == nil {
			return nil, invalid(name, "missing required vector")
		}
		if *val < 0 || *val > 1 {
			return nil, invalid(name, "score out of range [0,1]")
		}
		vecMap[name] = *val
	}

	vectors := &models.EpistemicVectors{}
	vectors.FromMap(vecMap)

	rationale := make(map[string]string)
	for _, name := range names {
		rationale[name] = *payload.Rationale
	}
	evidence := make(map[string]string)
	if payload.Evidence != nil {
		for _, name := range names {
			evidence[name] = *payload.Evidence
		}
	}

	return &NormalizedAssessment{
		Vectors:   vectors,
		Rationale: rationale,
		Evidence:  evidence,
		Warnings:  []string{"legacy flat submission form is deprecated; submit the nested {engagement,foundation,comprehension,execution,uncertainty} form instead"},
	}, nil
}

// Parse tries the nested form first, falling back to the legacy flat form.
// Both forms produce identical NormalizedAssessment shapes once parsed,
// so they yield identical stored reflexes.
func Parse(raw []byte) (*NormalizedAssessment, *ValidationError) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, invalid("", "malformed JSON: "+err.Error())
	}
	if _, hasFoundation := probe["foundation"]; hasFoundation {
		return ParseNested(raw)
	}
	return ParseLegacyFlat(raw)
}
