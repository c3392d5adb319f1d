package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle of a cross-session project container.
// Transitions are unrestricted among the three states; archiving a project
// never touches its sessions, only the container's standing.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusDormant  ProjectStatus = "dormant"
	ProjectStatusArchived ProjectStatus = "archived"
)

// ValidProjectStatus reports whether s is one of the three known states.
func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectStatusActive, ProjectStatusDormant, ProjectStatusArchived:
		return true
	}
	return false
}

// Project is a long-lived container linking sessions, goals and
// breadcrumbs across agent runs. Sessions reference it; deleting a project
// never deletes sessions.
type Project struct {
	ID                    string        `json:"id" db:"id"`
	Name                  string        `json:"name" db:"name"`
	Description           *string       `json:"description,omitempty" db:"description"`
	Repos                 []string      `json:"repos"` // git repositories
	ReposJSON             string        `json:"-" db:"repos"`
	CreatedTimestamp      float64       `json:"created_timestamp" db:"created_timestamp"`
	LastActivityTimestamp *float64      `json:"last_activity_timestamp,omitempty" db:"last_activity_timestamp"`
	Status                ProjectStatus `json:"status" db:"status"`
	TotalSessions         int           `json:"total_sessions" db:"total_sessions"`
	TotalGoals            int           `json:"total_goals" db:"total_goals"`
	ProjectData           string        `json:"-" db:"project_data"`
}

// NewProject creates an active project.
func NewProject(name string, description *string) *Project {
	return &Project{
		ID:               uuid.New().String(),
		Name:             name,
		Description:      description,
		Repos:            []string{},
		CreatedTimestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Status:           ProjectStatusActive,
	}
}

// ProjectCreateInput is the payload for project.create.
type ProjectCreateInput struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Repos       []string `json:"repos,omitempty"`
}

// EpistemicSource is the durable record of one grounded-evidence
// observation supplied at POSTFLIGHT: the external metric, its normalised
// value, the vectors it grounds, and its weighting. One row is appended
// per evidence source per closed transaction, so the calibration
// trajectory's inputs stay auditable after the fact.
type EpistemicSource struct {
	ID              string  `json:"id" db:"id"`
	SessionID       string  `json:"session_id" db:"session_id"`
	ProjectID       *string `json:"project_id,omitempty" db:"project_id"`
	TransactionID   string  `json:"transaction_id" db:"transaction_id"`
	Metric          string  `json:"metric" db:"metric"`
	NormalisedValue float64 `json:"normalised_value" db:"normalised_value"`
	SupportsVectors string  `json:"supports_vectors" db:"supports_vectors"` // JSON array of vector names
	Quality         float64 `json:"quality" db:"quality"`
	RecordedByAI    string  `json:"recorded_by_ai" db:"recorded_by_ai"`
	RecordedAt      float64 `json:"recorded_at" db:"recorded_at"`
}

// NewEpistemicSource creates an evidence record for a closed transaction.
func NewEpistemicSource(sessionID, transactionID, metric string, value, quality float64) *EpistemicSource {
	return &EpistemicSource{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		TransactionID:   transactionID,
		Metric:          metric,
		NormalisedValue: value,
		Quality:         quality,
		RecordedAt:      float64(time.Now().UnixMilli()) / 1000.0,
	}
}

// InvestigationBranch represents a parallel investigation branch. Its
// MergeScore and EpistemicQuality fields are populated by
// engine.BranchQualityStrategy implementations rather than computed here.
type InvestigationBranch struct {
	ID                  string   `json:"id" db:"id"`
	SessionID           string   `json:"session_id" db:"session_id"`
	BranchName          string   `json:"branch_name" db:"branch_name"`
	InvestigationPath   string   `json:"investigation_path" db:"investigation_path"`
	GitBranchName       string   `json:"git_branch_name" db:"git_branch_name"`
	PreflightVectors    string   `json:"preflight_vectors" db:"preflight_vectors"` // JSON
	PostflightVectors   *string  `json:"postflight_vectors,omitempty" db:"postflight_vectors"`
	TokensSpent         int      `json:"tokens_spent" db:"tokens_spent"`
	TimeSpentMinutes    int      `json:"time_spent_minutes" db:"time_spent_minutes"`
	MergeScore          *float64 `json:"merge_score,omitempty" db:"merge_score"`
	EpistemicQuality    *float64 `json:"epistemic_quality,omitempty" db:"epistemic_quality"`
	IsWinner            bool     `json:"is_winner" db:"is_winner"`
	CreatedTimestamp    float64  `json:"created_timestamp" db:"created_timestamp"`
	CheckpointTimestamp *float64 `json:"checkpoint_timestamp,omitempty" db:"checkpoint_timestamp"`
	MergedTimestamp     *float64 `json:"merged_timestamp,omitempty" db:"merged_timestamp"`
	Status              string   `json:"status" db:"status"` // active, merged, abandoned
	BranchMetadata      *string  `json:"branch_metadata,omitempty" db:"branch_metadata"`
}

// NewInvestigationBranch creates a new investigation branch
func NewInvestigationBranch(sessionID, branchName, path, gitBranch string) *InvestigationBranch {
	return &InvestigationBranch{
		ID:                sessionID + "-" + branchName,
		SessionID:         sessionID,
		BranchName:        branchName,
		InvestigationPath: path,
		GitBranchName:     gitBranch,
		TokensSpent:       0,
		TimeSpentMinutes:  0,
		IsWinner:          false,
		CreatedTimestamp:  float64(time.Now().UnixMilli()) / 1000.0,
		Status:            "active",
	}
}

// MergeDecision represents a decision to merge investigation branches
type MergeDecision struct {
	ID                 string  `json:"id" db:"id"`
	SessionID          string  `json:"session_id" db:"session_id"`
	InvestigationRound int     `json:"investigation_round" db:"investigation_round"`
	WinningBranchID    string  `json:"winning_branch_id" db:"winning_branch_id"`
	WinningBranchName  *string `json:"winning_branch_name,omitempty" db:"winning_branch_name"`
	WinningScore       float64 `json:"winning_score" db:"winning_score"`
	OtherBranches      *string `json:"other_branches,omitempty" db:"other_branches"` // JSON
	DecisionRationale  string  `json:"decision_rationale" db:"decision_rationale"`
	AutoMerged         bool    `json:"auto_merged" db:"auto_merged"`
	CreatedTimestamp   float64 `json:"created_timestamp" db:"created_timestamp"`
	DecisionMetadata   *string `json:"decision_metadata,omitempty" db:"decision_metadata"`
}
