package models

import (
	"time"

	"github.com/google/uuid"
)

// ScopeVector sizes a goal along three [0,1] dimensions.
type ScopeVector struct {
	Breadth      float64 `json:"breadth"`      // scope width
	Duration     float64 `json:"duration"`     // expected lifetime
	Coordination float64 `json:"coordination"` // multi-agent need
}

// SuccessCriterion is one measurable condition a goal's completion can be
// judged against.
type SuccessCriterion struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	ValidationMethod string   `json:"validation_method"` // completion, quality_gate, metric_threshold
	Threshold        *float64 `json:"threshold,omitempty"`
	IsRequired       bool     `json:"is_required"`
	IsMet            bool     `json:"is_met"`
}

// GoalStatus represents the current state of a goal.
type GoalStatus string

const (
	GoalStatusInProgress GoalStatus = "in_progress"
	GoalStatusComplete   GoalStatus = "complete"
	GoalStatusAbandoned  GoalStatus = "abandoned"
)

// Goal is a hierarchical intent owned by the session that created it and
// read-shared with other sessions. A claim moves ownership to another
// session; the operations that add or complete subtasks and complete or
// abandon a goal do not check which session owns it.
type Goal struct {
	ID                  string             `json:"id" db:"id"`
	SessionID           string             `json:"session_id" db:"session_id"`
	Objective           string             `json:"objective" db:"objective"`
	Scope               ScopeVector        `json:"scope"`
	ScopeJSON           string             `json:"-" db:"scope"` // for DB storage
	SuccessCriteria     []SuccessCriterion `json:"success_criteria"`
	EstimatedComplexity *float64           `json:"estimated_complexity,omitempty" db:"estimated_complexity"`
	CreatedTimestamp    float64            `json:"created_timestamp" db:"created_timestamp"`
	CompletedTimestamp  *float64           `json:"completed_timestamp,omitempty" db:"completed_timestamp"`
	IsCompleted         bool               `json:"is_completed" db:"is_completed"`
	Status              GoalStatus         `json:"status" db:"status"`
	GoalData            string             `json:"-" db:"goal_data"` // full JSON
}

// NewGoal creates an in-progress goal.
func NewGoal(sessionID, objective string, scope ScopeVector) *Goal {
	return &Goal{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		Objective:        objective,
		Scope:            scope,
		SuccessCriteria:  []SuccessCriterion{},
		CreatedTimestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Status:           GoalStatusInProgress,
	}
}

// GoalCreateInput is the payload for goal.create.
type GoalCreateInput struct {
	SessionID           string      `json:"session_id"`
	Objective           string      `json:"objective"`
	Scope               ScopeVector `json:"scope"`
	SuccessCriteria     []string    `json:"success_criteria,omitempty"`
	EstimatedComplexity *float64    `json:"estimated_complexity,omitempty"`
}

// EpistemicImportance represents the importance level of a subtask.
type EpistemicImportance string

const (
	ImportanceCritical EpistemicImportance = "critical"
	ImportanceHigh     EpistemicImportance = "high"
	ImportanceMedium   EpistemicImportance = "medium"
	ImportanceLow      EpistemicImportance = "low"
)

// TaskStatus represents the status of a subtask.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusSkipped    TaskStatus = "skipped"
)

// SubTask is one unit of work under a goal. A goal with any incomplete
// critical subtask cannot be completed.
type SubTask struct {
	ID                  string              `json:"id" db:"id"`
	GoalID              string              `json:"goal_id" db:"goal_id"`
	Description         string              `json:"description" db:"description"`
	Status              TaskStatus          `json:"status" db:"status"`
	EpistemicImportance EpistemicImportance `json:"epistemic_importance" db:"epistemic_importance"`
	Dependencies        []string            `json:"dependencies"` // subtask IDs
	CompletionEvidence  *string             `json:"completion_evidence,omitempty" db:"completion_evidence"`
	CreatedTimestamp    float64             `json:"created_timestamp" db:"created_timestamp"`
	CompletedTimestamp  *float64            `json:"completed_timestamp,omitempty" db:"completed_timestamp"`
	SubtaskData         string              `json:"-" db:"subtask_data"`
}

// NewSubTask creates a pending subtask.
func NewSubTask(goalID, description string, importance EpistemicImportance) *SubTask {
	return &SubTask{
		ID:                  uuid.New().String(),
		GoalID:              goalID,
		Description:         description,
		Status:              TaskStatusPending,
		EpistemicImportance: importance,
		Dependencies:        []string{},
		CreatedTimestamp:    float64(time.Now().UnixMilli()) / 1000.0,
	}
}

// SubTaskCreateInput is the payload for goal.add_subtask.
type SubTaskCreateInput struct {
	GoalID       string              `json:"goal_id"`
	Description  string              `json:"description"`
	Importance   EpistemicImportance `json:"importance,omitempty"`
	Dependencies []string            `json:"dependencies,omitempty"`
}
