package api

import (
	"fmt"
	"time"

	"github.com/Nubaeon/empirica/internal/engine"
	"github.com/Nubaeon/empirica/internal/models"
)

// SessionStartRequest is the input to session.start: create a session and
// return the full decision-support context in one call, so an agent's
// first operation already tells it what to verify, avoid, and do next.
type SessionStartRequest struct {
	AIID        string `json:"ai_id"`
	Objective   string `json:"objective"`
	ProjectName string `json:"project_name,omitempty"`
}

// SessionStart creates a session bound to a project (by name, created on
// first use) and assembles its opening context.
func (a *API) SessionStart(req SessionStartRequest) (result *models.StartResponse, err error) {
	defer recoverTo(&err, "session.start")

	var projectID *string
	if req.ProjectName != "" {
		project, perr := a.projects.GetByName(req.ProjectName)
		if perr != nil {
			return nil, databaseError("load project", perr)
		}
		if project == nil {
			project = models.NewProject(req.ProjectName, nil)
			if cerr := a.projects.Create(project); cerr != nil {
				return nil, databaseError("create project", cerr)
			}
		}
		projectID = &project.ID
	}

	created, err := a.SessionCreate(SessionCreateRequest{
		AIID:      req.AIID,
		ProjectID: projectID,
		Subject:   optionalStr(req.Objective),
	})
	if err != nil {
		return nil, err
	}

	session, serr := a.sessions.Get(created.SessionID)
	if serr != nil {
		return nil, databaseError("load session", serr)
	}
	ctx, cerr := a.buildSessionContext(session)
	if cerr != nil {
		return nil, cerr
	}
	ctx.Objective = req.Objective

	return &models.StartResponse{Status: "started", Context: ctx}, nil
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SessionStatus assembles the AI-facing "what do I do right now" readout
// for a session: stale knowledge to verify, dead ends not to repeat, fresh
// findings, open questions, continuity from the previous session's
// handoff, and a gate-aware decision.
func (a *API) SessionStatus(sessionRef string) (result *models.StatusResponse, err error) {
	defer recoverTo(&err, "session.status")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}

	ctx, cerr := a.buildSessionContext(session)
	if cerr != nil {
		return nil, cerr
	}

	status := "active"
	if !session.IsActive() {
		status = "ended"
	}
	resp := &models.StatusResponse{
		Status:   status,
		Duration: time.Since(session.StartTime).Round(time.Second).String(),
		Context:  ctx,
	}
	if session.ProjectID != nil {
		resp.Counts = a.breadcrumbCounts(*session.ProjectID)
	}
	return resp, nil
}

// buildSessionContext gathers the decision-support view of a session from
// its project's breadcrumbs and its own reflex history.
func (a *API) buildSessionContext(session *models.Session) (*models.SessionContext, *Error) {
	ctx := &models.SessionContext{SessionID: session.SessionID}
	if session.Subject != nil {
		ctx.Objective = *session.Subject
	}

	var latestVectors *models.EpistemicVectors
	if reflexes, rerr := a.reflexes.ListBySession(session.SessionID, 1); rerr == nil && len(reflexes) > 0 {
		latestVectors = reflexes[0].ToVectors()
		ctx.Vectors = models.NewEpistemicSnapshot(latestVectors)
	}

	if session.ProjectID == nil {
		ctx.Decision = a.buildGuidance(latestVectors, nil, nil)
		return ctx, nil
	}
	projectID := *session.ProjectID
	ctx.ProjectID = projectID

	findings, ferr := a.breadcrumbs.ListFindingsWithStaleness(projectID, "", 50)
	if ferr != nil {
		return nil, databaseError("list findings", ferr)
	}
	var stale []models.VerificationNeeded
	for _, f := range findings {
		switch f.GetStalenessStatus(false) {
		case models.StatusStale:
			scope := ""
			if f.Subject != nil {
				scope = *f.Subject
			}
			stale = append(stale, models.VerificationNeeded{
				Finding:       f.Finding,
				ID:            f.ID,
				DaysStale:     int(f.DaysSinceVerified()),
				Confidence:    f.CalculateConfidence(),
				Scope:         scope,
				VerifyCommand: fmt.Sprintf("empirica finding verify --id %s", f.ID),
			})
		case models.StatusFresh, models.StatusAging:
			scope := ""
			if f.Subject != nil {
				scope = *f.Subject
			}
			ctx.Knowledge = append(ctx.Knowledge, models.KnowledgeItem{
				Finding:    f.Finding,
				Confidence: f.CalculateConfidence(),
				Status:     string(f.GetStalenessStatus(false)),
				Scope:      scope,
			})
		}
	}
	ctx.RequiresVerification = stale

	deadEnds, derr := a.breadcrumbs.ListDeadEnds(projectID, "", 20)
	if derr != nil {
		return nil, databaseError("list dead ends", derr)
	}
	for _, d := range deadEnds {
		scope := ""
		if d.Subject != nil {
			scope = *d.Subject
		}
		ctx.DeadEnds = append(ctx.DeadEnds, models.DeadEndWarning{
			Approach:  d.Approach,
			WhyFailed: d.WhyFailed,
			Scope:     scope,
		})
	}

	unresolved := false
	unknowns, uerr := a.breadcrumbs.ListUnknowns(projectID, "", &unresolved, 20)
	if uerr != nil {
		return nil, databaseError("list unknowns", uerr)
	}
	for _, u := range unknowns {
		ctx.OpenQuestions = append(ctx.OpenQuestions, u.Unknown)
	}

	if handoff, herr := a.lastHandoffForProject(projectID, session.SessionID); herr == nil && handoff != nil {
		continuity := &models.ContinuityContext{}
		if handoff.TaskSummary != nil {
			continuity.Summary = *handoff.TaskSummary
		}
		if handoff.RecommendedNextSteps != nil {
			continuity.Recommendations = *handoff.RecommendedNextSteps
		}
		ctx.Continuity = continuity
	}

	ctx.Decision = a.buildGuidance(latestVectors, stale, ctx.DeadEnds)
	return ctx, nil
}

// lastHandoffForProject finds the most recent handoff in the project that
// isn't this session's own.
func (a *API) lastHandoffForProject(projectID, excludeSessionID string) (*models.HandoffReport, error) {
	reports, err := a.handoffs.List(projectID, "", 5)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if r.SessionID != excludeSessionID {
			return r, nil
		}
	}
	return nil, nil
}

// buildGuidance derives the immediate recommendation from the newest
// vectors and the verification backlog. Unverified stale knowledge lowers
// readiness regardless of self-assessed confidence.
func (a *API) buildGuidance(vectors *models.EpistemicVectors, stale []models.VerificationNeeded, deadEnds []models.DeadEndWarning) *models.DecisionGuidance {
	if vectors == nil {
		return &models.DecisionGuidance{
			ReadyToProceed:  false,
			Action:          "investigate",
			Reason:          "no assessment submitted yet; run a PREFLIGHT to establish a baseline",
			Prerequisites:   []string{"reflex.submit_preflight"},
			ConfidencePhase: "🌑",
		}
	}

	confidence := engine.Confidence(vectors)
	guidance := &models.DecisionGuidance{
		Confidence:      confidence,
		ConfidencePhase: vectors.MoonPhase(),
	}

	switch {
	case len(stale) > 0:
		guidance.Action = "verify"
		guidance.Reason = fmt.Sprintf("%d stale finding(s) must be verified before relying on them", len(stale))
		for _, s := range stale {
			guidance.Prerequisites = append(guidance.Prerequisites, s.VerifyCommand)
		}
	case vectors.Know < a.thresholds.Know || vectors.Uncertainty > a.thresholds.Uncertainty:
		guidance.Action = "investigate"
		guidance.Reason = fmt.Sprintf("readiness gate not met (know %.2f / uncertainty %.2f against thresholds %.2f / %.2f)",
			vectors.Know, vectors.Uncertainty, a.thresholds.Know, a.thresholds.Uncertainty)
	default:
		guidance.ReadyToProceed = true
		guidance.Action = "proceed"
		guidance.Reason = "readiness gate met and no verification backlog"
	}
	return guidance
}

// breadcrumbCounts tallies a project's breadcrumbs for the status readout.
func (a *API) breadcrumbCounts(projectID string) *models.BreadcrumbCounts {
	counts := &models.BreadcrumbCounts{}

	if findings, err := a.breadcrumbs.ListFindingsWithStaleness(projectID, "", 500); err == nil {
		counts.Findings = len(findings)
		for _, f := range findings {
			switch f.GetStalenessStatus(false) {
			case models.StatusFresh:
				counts.FindingsFresh++
			case models.StatusAging:
				counts.FindingsAging++
			default:
				counts.FindingsStale++
			}
		}
	}
	if unknowns, err := a.breadcrumbs.ListUnknowns(projectID, "", nil, 500); err == nil {
		for _, u := range unknowns {
			if u.IsResolved {
				counts.UnknownsResolved++
			} else {
				counts.UnknownsOpen++
			}
		}
	}
	if deadEnds, err := a.breadcrumbs.ListDeadEnds(projectID, "", 500); err == nil {
		counts.DeadEnds = len(deadEnds)
	}
	return counts
}
