package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nubaeon/empirica/internal/engine"
	"github.com/Nubaeon/empirica/internal/models"
)

// SessionCreateRequest is the input to session.create.
type SessionCreateRequest struct {
	AIID           string  `json:"ai_id"`
	BootstrapLevel int     `json:"bootstrap_level,omitempty"`
	UserID         *string `json:"user_id,omitempty"`
	ProjectID      *string `json:"project_id,omitempty"`
	Subject        *string `json:"subject,omitempty"`
}

// SessionCreate opens a new session for an agent.
func (a *API) SessionCreate(req SessionCreateRequest) (result *models.SessionOutput, err error) {
	defer recoverTo(&err, "session.create")

	if strings.TrimSpace(req.AIID) == "" {
		return nil, newError(ErrInvalidInput, "ai_id is required").
			withSuggestion("pass the agent identifier that will own this session")
	}
	if req.BootstrapLevel < 0 || req.BootstrapLevel > 3 {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("bootstrap_level %d out of range [0,3]", req.BootstrapLevel))
	}

	session := models.NewSession(req.AIID)
	if req.BootstrapLevel > 0 {
		session.BootstrapLevel = req.BootstrapLevel
	}
	session.UserID = req.UserID
	session.Subject = req.Subject

	if req.ProjectID != nil {
		project, perr := a.projects.Get(*req.ProjectID)
		if perr != nil {
			return nil, databaseError("load project", perr)
		}
		if project == nil {
			return nil, newError(ErrInvalidInput, fmt.Sprintf("no project %s", *req.ProjectID))
		}
		session.ProjectID = req.ProjectID
	}

	if err := a.sessions.Create(session); err != nil {
		return nil, databaseError("create session", err)
	}
	if session.ProjectID != nil {
		if perr := a.projects.IncrementSessions(*session.ProjectID); perr != nil {
			log.Debug().Err(perr).Msg("failed to bump project session count")
		}
	}

	a.rememberActive(session.SessionID, "")

	return &models.SessionOutput{
		SessionID:      session.SessionID,
		AIID:           session.AIID,
		Status:         "active",
		BootstrapLevel: session.BootstrapLevel,
		ProjectID:      session.ProjectID,
	}, nil
}

// SessionGet resolves a session ref (UUID, prefix, or alias) to its record.
func (a *API) SessionGet(ref string) (result *models.Session, err error) {
	defer recoverTo(&err, "session.get")
	return a.resolveSession(ref)
}

// SessionEnd closes a session and, when a summary is given, writes its
// handoff report.
func (a *API) SessionEnd(ref string, summary string) (result *models.Session, err error) {
	defer recoverTo(&err, "session.end")

	session, err := a.resolveSession(ref)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, newError(ErrIllegalTransition, "session has already ended").
			withContext(map[string]any{"ended_at": session.EndTime})
	}

	if err := a.sessions.End(session.SessionID); err != nil {
		return nil, databaseError("end session", err)
	}

	if summary != "" {
		projectID := ""
		if session.ProjectID != nil {
			projectID = *session.ProjectID
		}
		_, herr := a.handoffs.Create(&models.HandoffCreateInput{
			SessionID:   session.SessionID,
			ProjectID:   projectID,
			TaskSummary: summary,
		}, session.AIID)
		if herr != nil {
			log.Debug().Err(herr).Msg("handoff report write failed")
		}
	}

	return a.sessions.Get(session.SessionID)
}

// ResumeMode selects which prior sessions session.resume summarises.
type ResumeMode string

const (
	ResumeLast      ResumeMode = "last"
	ResumeLastN     ResumeMode = "last_n"
	ResumeSessionID ResumeMode = "session_id"
)

// SessionResumeRequest is the input to session.resume.
type SessionResumeRequest struct {
	AIID        string     `json:"ai_id"`
	Mode        ResumeMode `json:"mode"`
	N           int        `json:"n,omitempty"`
	SessionRef  string     `json:"session_id,omitempty"`
	DetailLevel string     `json:"detail_level,omitempty"` // "summary" or "full"
}

// SessionTrajectory summarises one prior session's epistemic arc.
type SessionTrajectory struct {
	SessionID     string             `json:"session_id"`
	Subject       *string            `json:"subject,omitempty"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       *time.Time         `json:"end_time,omitempty"`
	TotalCascades int                `json:"total_cascades"`
	AvgConfidence *float64           `json:"avg_confidence,omitempty"`
	LearningDelta map[string]float64 `json:"learning_delta,omitempty"`
	Handoff       *string            `json:"handoff_summary,omitempty"`
	OpenUnknowns  []string           `json:"open_unknowns,omitempty"`
}

// ResumeResult is the success response for session.resume.
type ResumeResult struct {
	AIID         string                   `json:"ai_id"`
	Trajectories []SessionTrajectory      `json:"trajectories"`
	Guidance     *models.DecisionGuidance `json:"guidance,omitempty"`
}

// SessionResume reconstructs an agent's epistemic trajectory from prior
// sessions so a fresh process can continue without replaying full context.
func (a *API) SessionResume(req SessionResumeRequest) (result *ResumeResult, err error) {
	defer recoverTo(&err, "session.resume")

	if req.AIID == "" && req.Mode != ResumeSessionID {
		return nil, newError(ErrInvalidInput, "ai_id is required unless mode is session_id")
	}

	var targets []*models.Session
	switch req.Mode {
	case ResumeLast, "":
		session, serr := a.sessions.GetLatest(req.AIID)
		if serr != nil {
			return nil, databaseError("load latest session", serr)
		}
		if session == nil {
			return nil, newError(ErrSessionNotFound, fmt.Sprintf("no sessions for %s", req.AIID))
		}
		targets = []*models.Session{session}
	case ResumeLastN:
		n := req.N
		if n <= 0 {
			n = 3
		}
		sessions, serr := a.sessions.List(req.AIID, n)
		if serr != nil {
			return nil, databaseError("list sessions", serr)
		}
		if len(sessions) == 0 {
			return nil, newError(ErrSessionNotFound, fmt.Sprintf("no sessions for %s", req.AIID))
		}
		targets = sessions
	case ResumeSessionID:
		session, serr := a.resolveSession(req.SessionRef)
		if serr != nil {
			return nil, serr
		}
		targets = []*models.Session{session}
	default:
		return nil, newError(ErrInvalidInput, fmt.Sprintf("unknown resume mode %q", req.Mode)).
			withAlternatives([]string{string(ResumeLast), string(ResumeLastN), string(ResumeSessionID)})
	}

	out := &ResumeResult{AIID: req.AIID}
	for _, session := range targets {
		traj := SessionTrajectory{
			SessionID:     session.SessionID,
			Subject:       session.Subject,
			StartTime:     session.StartTime,
			EndTime:       session.EndTime,
			TotalCascades: session.TotalCascades,
			AvgConfidence: session.AvgConfidence,
		}

		if delta, derr := a.reflexes.GetDelta(session.SessionID); derr == nil && delta != nil {
			traj.LearningDelta = delta.ToMap()
		}
		if handoff, herr := a.handoffs.Get(session.SessionID); herr == nil && handoff != nil {
			traj.Handoff = handoff.TaskSummary
		}
		if session.ProjectID != nil && req.DetailLevel == "full" {
			resolved := false
			unknowns, uerr := a.breadcrumbs.ListUnknowns(*session.ProjectID, session.SessionID, &resolved, 10)
			if uerr == nil {
				for _, u := range unknowns {
					traj.OpenUnknowns = append(traj.OpenUnknowns, u.Unknown)
				}
			}
		}

		out.Trajectories = append(out.Trajectories, traj)
	}

	out.Guidance = a.resumeGuidance(targets[0])
	return out, nil
}

// resumeGuidance derives a ready-to-proceed readout from the newest
// session's final assessment.
func (a *API) resumeGuidance(session *models.Session) *models.DecisionGuidance {
	postflight, err := a.reflexes.GetLatestByPhase(session.SessionID, string(models.PhasePostflight))
	if err != nil || postflight == nil {
		return &models.DecisionGuidance{
			ReadyToProceed:  false,
			Action:          "investigate",
			Reason:          "no completed transaction to resume from; assess before acting",
			ConfidencePhase: "🌑",
		}
	}
	vectors := postflight.ToVectors()
	confidence := engine.Confidence(vectors)
	ready := vectors.Know >= a.thresholds.Know && vectors.Uncertainty <= a.thresholds.Uncertainty
	action := "proceed"
	reason := "last transaction closed with a passing readiness state"
	if !ready {
		action = "investigate"
		reason = "last transaction closed below the readiness thresholds"
	}
	return &models.DecisionGuidance{
		ReadyToProceed:  ready,
		Action:          action,
		Reason:          reason,
		Confidence:      confidence,
		ConfidencePhase: vectors.MoonPhase(),
	}
}
