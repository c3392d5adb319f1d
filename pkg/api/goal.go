package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Nubaeon/empirica/internal/models"
)

// CascadeCreateRequest is the input to cascade.create.
type CascadeCreateRequest struct {
	SessionRef string  `json:"session_id"`
	Task       string  `json:"task"`
	Context    any     `json:"context,omitempty"`
	GoalID     *string `json:"goal_id,omitempty"`
}

// CascadeCreate opens a new cascade (and thereby a new epistemic
// transaction) within a session.
func (a *API) CascadeCreate(req CascadeCreateRequest) (result *models.Cascade, err error) {
	defer recoverTo(&err, "cascade.create")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, newError(ErrInvalidInput, "task is required")
	}

	cascade := models.NewCascade(session.SessionID, req.Task)
	if req.Context != nil {
		raw, merr := json.Marshal(req.Context)
		if merr != nil {
			return nil, newError(ErrInvalidInput, "context is not serialisable: "+merr.Error())
		}
		s := string(raw)
		cascade.ContextJSON = &s
	}
	if req.GoalID != nil {
		goal, gerr := a.goals.Get(*req.GoalID)
		if gerr != nil {
			return nil, databaseError("load goal", gerr)
		}
		if goal == nil {
			return nil, newError(ErrInvalidInput, fmt.Sprintf("no goal %s", *req.GoalID))
		}
		cascade.GoalID = req.GoalID
	}

	if err := a.cascades.Create(cascade); err != nil {
		return nil, databaseError("create cascade", err)
	}
	a.rememberActive(session.SessionID, cascade.CascadeID)
	return cascade, nil
}

// GoalCreate registers a new goal under a session.
func (a *API) GoalCreate(req models.GoalCreateInput) (result *models.Goal, err error) {
	defer recoverTo(&err, "goal.create")

	session, err := a.resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Objective) == "" {
		return nil, newError(ErrValidation, "objective is required")
	}
	for name, v := range map[string]float64{
		"breadth":      req.Scope.Breadth,
		"duration":     req.Scope.Duration,
		"coordination": req.Scope.Coordination,
	} {
		if v < 0 || v > 1 {
			return nil, newError(ErrValidation, fmt.Sprintf("scope.%s %v out of range [0,1]", name, v))
		}
	}

	goal := models.NewGoal(session.SessionID, req.Objective, req.Scope)
	goal.EstimatedComplexity = req.EstimatedComplexity
	for _, desc := range req.SuccessCriteria {
		goal.SuccessCriteria = append(goal.SuccessCriteria, models.SuccessCriterion{
			ID:               fmt.Sprintf("%s-sc-%d", goal.ID[:8], len(goal.SuccessCriteria)+1),
			Description:      desc,
			ValidationMethod: "completion",
			IsRequired:       true,
		})
	}

	if err := a.goals.Create(goal); err != nil {
		return nil, databaseError("create goal", err)
	}
	return goal, nil
}

// GoalAddSubtask attaches a subtask to a goal.
func (a *API) GoalAddSubtask(req models.SubTaskCreateInput) (result *models.SubTask, err error) {
	defer recoverTo(&err, "goal.add_subtask")

	goal, gerr := a.goals.Get(req.GoalID)
	if gerr != nil {
		return nil, databaseError("load goal", gerr)
	}
	if goal == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no goal %s", req.GoalID))
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, newError(ErrValidation, "description is required")
	}

	importance := req.Importance
	switch importance {
	case "":
		importance = models.ImportanceMedium
	case models.ImportanceCritical, models.ImportanceHigh, models.ImportanceMedium, models.ImportanceLow:
	default:
		return nil, newError(ErrValidation, fmt.Sprintf("unknown importance %q", importance)).
			withAlternatives([]string{"critical", "high", "medium", "low"})
	}

	subtask := models.NewSubTask(req.GoalID, req.Description, importance)
	subtask.Dependencies = req.Dependencies
	if err := a.subtasks.Create(subtask); err != nil {
		return nil, databaseError("create subtask", err)
	}
	return subtask, nil
}

// GoalCompleteSubtask marks a subtask completed, recording its evidence.
func (a *API) GoalCompleteSubtask(subtaskID, evidence string) (result *models.SubTask, err error) {
	defer recoverTo(&err, "goal.complete_subtask")

	subtask, serr := a.subtasks.Get(subtaskID)
	if serr != nil {
		return nil, databaseError("load subtask", serr)
	}
	if subtask == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no subtask %s", subtaskID))
	}
	if err := a.subtasks.Complete(subtaskID, evidence); err != nil {
		return nil, databaseError("complete subtask", err)
	}
	return a.subtasks.Get(subtaskID)
}

// GoalProgress summarises a goal's subtask completion state.
type GoalProgress struct {
	GoalID              string            `json:"goal_id"`
	Objective           string            `json:"objective"`
	Status              models.GoalStatus `json:"status"`
	Total               int               `json:"total_subtasks"`
	Completed           int               `json:"completed_subtasks"`
	CriticalOutstanding int               `json:"critical_outstanding"`
	CompletionRatio     float64           `json:"completion_ratio"`
}

// GoalGetProgress reports a goal's progress.
func (a *API) GoalGetProgress(goalID string) (result *GoalProgress, err error) {
	defer recoverTo(&err, "goal.progress")

	goal, gerr := a.goals.Get(goalID)
	if gerr != nil {
		return nil, databaseError("load goal", gerr)
	}
	if goal == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no goal %s", goalID))
	}
	subtasks, serr := a.subtasks.ListByGoal(goalID)
	if serr != nil {
		return nil, databaseError("list subtasks", serr)
	}

	progress := &GoalProgress{GoalID: goal.ID, Objective: goal.Objective, Status: goal.Status, Total: len(subtasks)}
	for _, st := range subtasks {
		if st.Status == models.TaskStatusCompleted {
			progress.Completed++
		} else if st.EpistemicImportance == models.ImportanceCritical {
			progress.CriticalOutstanding++
		}
	}
	if progress.Total > 0 {
		progress.CompletionRatio = float64(progress.Completed) / float64(progress.Total)
	}
	return progress, nil
}

// GoalList lists a session's goals.
func (a *API) GoalList(sessionRef string, completed *bool, limit int) (result []*models.Goal, err error) {
	defer recoverTo(&err, "goal.list")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	goals, gerr := a.goals.List(session.SessionID, completed, limit)
	if gerr != nil {
		return nil, databaseError("list goals", gerr)
	}
	return goals, nil
}

// GoalClaim transfers a goal to the claiming session. Goals are
// read-shared across sessions; GoalAddSubtask, GoalCompleteSubtask,
// GoalComplete and GoalAbandon take no session and do not check ownership.
func (a *API) GoalClaim(goalID, sessionRef string) (result *models.Goal, err error) {
	defer recoverTo(&err, "goal.claim")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}
	goal, gerr := a.goals.Get(goalID)
	if gerr != nil {
		return nil, databaseError("load goal", gerr)
	}
	if goal == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no goal %s", goalID))
	}
	if goal.Status == models.GoalStatusComplete {
		return nil, newError(ErrValidation, "a completed goal cannot be claimed")
	}
	if err := a.goals.Claim(goalID, session.SessionID); err != nil {
		return nil, databaseError("claim goal", err)
	}
	return a.goals.Get(goalID)
}

// GoalComplete closes a goal. Refused while any critical subtask remains
// incomplete.
func (a *API) GoalComplete(goalID, reason string) (result *models.Goal, err error) {
	defer recoverTo(&err, "goal.complete")

	goal, gerr := a.goals.Get(goalID)
	if gerr != nil {
		return nil, databaseError("load goal", gerr)
	}
	if goal == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no goal %s", goalID))
	}
	if goal.Status == models.GoalStatusComplete {
		return goal, nil
	}

	subtasks, serr := a.subtasks.ListByGoal(goalID)
	if serr != nil {
		return nil, databaseError("list subtasks", serr)
	}
	var blocking []string
	for _, st := range subtasks {
		if st.EpistemicImportance == models.ImportanceCritical && st.Status != models.TaskStatusCompleted {
			blocking = append(blocking, st.ID)
		}
	}
	if len(blocking) > 0 {
		return nil, newError(ErrValidation, fmt.Sprintf("%d critical subtask(s) incomplete", len(blocking))).
			withAlternatives(blocking).
			withRecovery("goal.complete_subtask")
	}

	if err := a.goals.Complete(goalID, reason); err != nil {
		return nil, databaseError("complete goal", err)
	}
	return a.goals.Get(goalID)
}

// GoalAbandon marks a goal abandoned.
func (a *API) GoalAbandon(goalID string) (result *models.Goal, err error) {
	defer recoverTo(&err, "goal.abandon")

	goal, gerr := a.goals.Get(goalID)
	if gerr != nil {
		return nil, databaseError("load goal", gerr)
	}
	if goal == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("no goal %s", goalID))
	}
	if goal.Status == models.GoalStatusComplete {
		return nil, newError(ErrValidation, "a completed goal cannot be abandoned")
	}
	if err := a.goals.UpdateStatus(goalID, models.GoalStatusAbandoned); err != nil {
		return nil, databaseError("abandon goal", err)
	}
	return a.goals.Get(goalID)
}
