package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// StalenessStatus classifies how much a finding's time-decayed confidence
// has eroded since it was last verified.
type StalenessStatus string

const (
	StatusFresh StalenessStatus = "fresh" // confidence >= 0.70
	StatusAging StalenessStatus = "aging" // confidence in [0.40, 0.70)
	StatusStale StalenessStatus = "stale" // confidence < 0.40
)

// Staleness classification boundaries.
const (
	freshThreshold = 0.70
	agingThreshold = 0.40
)

// DecayHalfLifeDays is the half-life of a finding's confidence: an
// unverified finding is worth half as much after this many days.
const DecayHalfLifeDays = 14.0

// FileChangeConfidenceMultiplier discounts a finding whose subject file has
// changed since the finding was recorded.
const FileChangeConfidenceMultiplier = 0.5

// BreadcrumbScope determines where breadcrumbs are stored.
type BreadcrumbScope string

const (
	ScopeSession BreadcrumbScope = "session" // ephemeral, session-specific
	ScopeProject BreadcrumbScope = "project" // persistent, cross-session
	ScopeBoth    BreadcrumbScope = "both"    // dual-log for important discoveries
)

// nowUnix returns the current time as fractional unix seconds, the
// timestamp representation every breadcrumb row uses.
func nowUnix() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}

// decayedConfidence computes e^(-ln2/halfLife * days): 1.0 at zero age,
// 0.5 at one half-life.
func decayedConfidence(baseTimestamp float64) float64 {
	days := (nowUnix() - baseTimestamp) / (24 * 60 * 60)
	return math.Exp(-math.Ln2 / DecayHalfLifeDays * days)
}

// Finding is an append-only narrative record of a discovered fact,
// attached to a session and optionally a goal, subtask, project, or
// epistemic transaction.
type Finding struct {
	ID                    string   `json:"id" db:"id"`
	ProjectID             string   `json:"project_id" db:"project_id"`
	SessionID             string   `json:"session_id" db:"session_id"`
	GoalID                *string  `json:"goal_id,omitempty" db:"goal_id"`
	SubtaskID             *string  `json:"subtask_id,omitempty" db:"subtask_id"`
	TransactionID         *string  `json:"transaction_id,omitempty"`
	Finding               string   `json:"finding" db:"finding"`
	CreatedTimestamp      float64  `json:"created_timestamp" db:"created_timestamp"`
	Subject               *string  `json:"subject,omitempty" db:"subject"`
	Impact                float64  `json:"impact" db:"impact"` // 0.0-1.0
	FindingData           string   `json:"-" db:"finding_data"`
	LastVerifiedTimestamp *float64 `json:"last_verified_timestamp,omitempty" db:"last_verified_timestamp"`
	SubjectGitHash        *string  `json:"subject_git_hash,omitempty" db:"subject_git_hash"`
}

// verificationBase is the timestamp decay is measured from: the last
// verification when one exists, otherwise creation.
func (f *Finding) verificationBase() float64 {
	if f.LastVerifiedTimestamp != nil {
		return *f.LastVerifiedTimestamp
	}
	return f.CreatedTimestamp
}

// CalculateConfidence returns the finding's time-decayed confidence in
// (0, 1]. Verification resets the decay clock.
func (f *Finding) CalculateConfidence() float64 {
	return decayedConfidence(f.verificationBase())
}

// GetStalenessStatus buckets the decayed confidence, applying the
// file-change discount when the subject file moved under the finding.
func (f *Finding) GetStalenessStatus(fileChanged bool) StalenessStatus {
	confidence := f.CalculateConfidence()
	if fileChanged {
		confidence *= FileChangeConfidenceMultiplier
	}
	switch {
	case confidence >= freshThreshold:
		return StatusFresh
	case confidence >= agingThreshold:
		return StatusAging
	default:
		return StatusStale
	}
}

// DaysSinceVerified returns the age of the finding's decay clock in days.
func (f *Finding) DaysSinceVerified() float64 {
	return (nowUnix() - f.verificationBase()) / (24 * 60 * 60)
}

// NewFinding creates a finding attached to a project and session.
func NewFinding(projectID, sessionID, finding string, impact float64) *Finding {
	return &Finding{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		SessionID:        sessionID,
		Finding:          finding,
		CreatedTimestamp: nowUnix(),
		Impact:           impact,
	}
}

// FindingLogInput is the payload for breadcrumb.finding.log.
type FindingLogInput struct {
	ProjectID     string          `json:"project_id,omitempty"`
	SessionID     string          `json:"session_id"`
	Finding       string          `json:"finding"`
	GoalID        *string         `json:"goal_id,omitempty"`
	SubtaskID     *string         `json:"subtask_id,omitempty"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Subject       *string         `json:"subject,omitempty"`
	Impact        float64         `json:"impact"`
	Scope         BreadcrumbScope `json:"scope,omitempty"`
}

// Unknown is a knowledge gap. It is the one breadcrumb with a mutable
// field: is_resolved may flip false->true exactly once, after which the
// record is immutable (the repository refuses a second resolution).
type Unknown struct {
	ID                string   `json:"id" db:"id"`
	ProjectID         string   `json:"project_id" db:"project_id"`
	SessionID         string   `json:"session_id" db:"session_id"`
	GoalID            *string  `json:"goal_id,omitempty" db:"goal_id"`
	SubtaskID         *string  `json:"subtask_id,omitempty" db:"subtask_id"`
	TransactionID     *string  `json:"transaction_id,omitempty"`
	Unknown           string   `json:"unknown" db:"unknown"`
	IsResolved        bool     `json:"is_resolved" db:"is_resolved"`
	ResolvedBy        *string  `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedTimestamp  float64  `json:"created_timestamp" db:"created_timestamp"`
	ResolvedTimestamp *float64 `json:"resolved_timestamp,omitempty" db:"resolved_timestamp"`
	Subject           *string  `json:"subject,omitempty" db:"subject"`
	Impact            float64  `json:"impact" db:"impact"`
	UnknownData       string   `json:"-" db:"unknown_data"`
}

// NewUnknown creates an open knowledge-gap record.
func NewUnknown(projectID, sessionID, unknown string, impact float64) *Unknown {
	return &Unknown{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		SessionID:        sessionID,
		Unknown:          unknown,
		CreatedTimestamp: nowUnix(),
		Impact:           impact,
	}
}

// UnknownLogInput is the payload for breadcrumb.unknown.log.
type UnknownLogInput struct {
	ProjectID     string          `json:"project_id,omitempty"`
	SessionID     string          `json:"session_id"`
	Unknown       string          `json:"unknown"`
	GoalID        *string         `json:"goal_id,omitempty"`
	SubtaskID     *string         `json:"subtask_id,omitempty"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Subject       *string         `json:"subject,omitempty"`
	Impact        float64         `json:"impact"`
	Scope         BreadcrumbScope `json:"scope,omitempty"`
}

// DeadEnd records a failed approach so a later session doesn't repeat it.
type DeadEnd struct {
	ID               string  `json:"id" db:"id"`
	ProjectID        string  `json:"project_id" db:"project_id"`
	SessionID        string  `json:"session_id" db:"session_id"`
	GoalID           *string `json:"goal_id,omitempty" db:"goal_id"`
	SubtaskID        *string `json:"subtask_id,omitempty" db:"subtask_id"`
	TransactionID    *string `json:"transaction_id,omitempty"`
	Approach         string  `json:"approach" db:"approach"`
	WhyFailed        string  `json:"why_failed" db:"why_failed"`
	CreatedTimestamp float64 `json:"created_timestamp" db:"created_timestamp"`
	Subject          *string `json:"subject,omitempty" db:"subject"`
	Impact           float64 `json:"impact" db:"impact"`
	DeadEndData      string  `json:"-" db:"dead_end_data"`
}

// NewDeadEnd creates a dead-end record. whyFailed is mandatory context; an
// approach without its failure reason is useless to the next session.
func NewDeadEnd(projectID, sessionID, approach, whyFailed string, impact float64) *DeadEnd {
	return &DeadEnd{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		SessionID:        sessionID,
		Approach:         approach,
		WhyFailed:        whyFailed,
		CreatedTimestamp: nowUnix(),
		Impact:           impact,
	}
}

// DeadEndLogInput is the payload for breadcrumb.dead_end.log.
type DeadEndLogInput struct {
	ProjectID     string          `json:"project_id,omitempty"`
	SessionID     string          `json:"session_id"`
	Approach      string          `json:"approach"`
	WhyFailed     string          `json:"why_failed"`
	GoalID        *string         `json:"goal_id,omitempty"`
	SubtaskID     *string         `json:"subtask_id,omitempty"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Subject       *string         `json:"subject,omitempty"`
	Impact        float64         `json:"impact"`
	Scope         BreadcrumbScope `json:"scope,omitempty"`
}

// RootCauseVector names the epistemic vector whose miscalibration caused a
// mistake, feeding the calibration tracks.
type RootCauseVector string

const (
	RootCauseKnow        RootCauseVector = "KNOW"
	RootCauseContext     RootCauseVector = "CONTEXT"
	RootCauseClarity     RootCauseVector = "CLARITY"
	RootCauseCoherence   RootCauseVector = "COHERENCE"
	RootCauseUncertainty RootCauseVector = "UNCERTAINTY"
)

// Mistake records an error the agent made, with its root-cause vector and
// a prevention note.
type Mistake struct {
	ID               string           `json:"id" db:"id"`
	SessionID        string           `json:"session_id" db:"session_id"`
	GoalID           *string          `json:"goal_id,omitempty" db:"goal_id"`
	ProjectID        *string          `json:"project_id,omitempty" db:"project_id"`
	TransactionID    *string          `json:"transaction_id,omitempty"`
	Mistake          string           `json:"mistake" db:"mistake"`
	WhyWrong         string           `json:"why_wrong" db:"why_wrong"`
	CostEstimate     *string          `json:"cost_estimate,omitempty" db:"cost_estimate"`
	RootCauseVector  *RootCauseVector `json:"root_cause_vector,omitempty" db:"root_cause_vector"`
	Prevention       *string          `json:"prevention,omitempty" db:"prevention"`
	CreatedTimestamp float64          `json:"created_timestamp" db:"created_timestamp"`
	MistakeData      string           `json:"-" db:"mistake_data"`
}

// NewMistake creates a mistake record.
func NewMistake(sessionID, mistake, whyWrong string) *Mistake {
	return &Mistake{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		Mistake:          mistake,
		WhyWrong:         whyWrong,
		CreatedTimestamp: nowUnix(),
	}
}

// MistakeLogInput is the payload for breadcrumb.mistake.log.
type MistakeLogInput struct {
	SessionID       string           `json:"session_id"`
	Mistake         string           `json:"mistake"`
	WhyWrong        string           `json:"why_wrong"`
	GoalID          *string          `json:"goal_id,omitempty"`
	ProjectID       *string          `json:"project_id,omitempty"`
	TransactionID   *string          `json:"transaction_id,omitempty"`
	CostEstimate    *string          `json:"cost_estimate,omitempty"`
	RootCauseVector *RootCauseVector `json:"root_cause_vector,omitempty"`
	Prevention      *string          `json:"prevention,omitempty"`
	Scope           BreadcrumbScope  `json:"scope,omitempty"`
}
