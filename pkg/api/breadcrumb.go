package api

import (
	"fmt"
	"strings"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/search"
)

// DefaultProjectName is the project breadcrumbs land in when a session has
// no project of its own.
const DefaultProjectName = "default"

// projectForSession picks the project a breadcrumb belongs to: an explicit
// project id, the session's project, or the lazily created default project.
func (a *API) projectForSession(session *models.Session, explicit string) (string, error) {
	if explicit != "" {
		project, err := a.projects.Get(explicit)
		if err != nil {
			return "", databaseError("load project", err)
		}
		if project == nil {
			return "", newError(ErrInvalidInput, fmt.Sprintf("no project %s", explicit))
		}
		return project.ID, nil
	}
	if session.ProjectID != nil {
		return *session.ProjectID, nil
	}

	project, err := a.projects.GetByName(DefaultProjectName)
	if err != nil {
		return "", databaseError("load default project", err)
	}
	if project == nil {
		desc := "auto-created container for sessions without a project"
		project = models.NewProject(DefaultProjectName, &desc)
		if err := a.projects.Create(project); err != nil {
			return "", databaseError("create default project", err)
		}
	}
	return project.ID, nil
}

// clampImpact keeps a breadcrumb's impact within [0,1], defaulting to 0.5.
func clampImpact(v float64) float64 {
	switch {
	case v == 0:
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// LogFinding appends a finding breadcrumb.
func (a *API) LogFinding(req models.FindingLogInput) (result *models.Finding, err error) {
	defer recoverTo(&err, "breadcrumb.finding.log")

	session, err := a.resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Finding) == "" {
		return nil, newError(ErrInvalidInput, "finding text is required")
	}
	projectID, err := a.projectForSession(session, req.ProjectID)
	if err != nil {
		return nil, err
	}

	finding := models.NewFinding(projectID, session.SessionID, req.Finding, clampImpact(req.Impact))
	finding.GoalID = req.GoalID
	finding.SubtaskID = req.SubtaskID
	finding.TransactionID = req.TransactionID
	finding.Subject = req.Subject
	if err := a.breadcrumbs.CreateFinding(finding); err != nil {
		return nil, databaseError("log finding", err)
	}
	return finding, nil
}

// LogUnknown appends an unknown breadcrumb.
func (a *API) LogUnknown(req models.UnknownLogInput) (result *models.Unknown, err error) {
	defer recoverTo(&err, "breadcrumb.unknown.log")

	session, err := a.resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Unknown) == "" {
		return nil, newError(ErrInvalidInput, "unknown text is required")
	}
	projectID, err := a.projectForSession(session, req.ProjectID)
	if err != nil {
		return nil, err
	}

	unknown := models.NewUnknown(projectID, session.SessionID, req.Unknown, clampImpact(req.Impact))
	unknown.GoalID = req.GoalID
	unknown.SubtaskID = req.SubtaskID
	unknown.TransactionID = req.TransactionID
	unknown.Subject = req.Subject
	if err := a.breadcrumbs.CreateUnknown(unknown); err != nil {
		return nil, databaseError("log unknown", err)
	}
	return unknown, nil
}

// ResolveUnknown flips an unknown to resolved, exactly once; a second
// resolution attempt is refused because resolved records are immutable.
func (a *API) ResolveUnknown(unknownID, resolvedBy string) (result *models.Unknown, err error) {
	defer recoverTo(&err, "breadcrumb.unknown.resolve")

	unknown, uerr := a.breadcrumbs.GetUnknown(unknownID)
	if uerr != nil {
		return nil, databaseError("load unknown", uerr)
	}
	if unknown == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no unknown %s", unknownID))
	}
	if unknown.IsResolved {
		return nil, newError(ErrValidation, "unknown is already resolved; resolved records are immutable")
	}
	if err := a.breadcrumbs.ResolveUnknown(unknownID, resolvedBy); err != nil {
		return nil, databaseError("resolve unknown", err)
	}
	return a.breadcrumbs.GetUnknown(unknownID)
}

// LogDeadEnd appends a dead-end breadcrumb.
func (a *API) LogDeadEnd(req models.DeadEndLogInput) (result *models.DeadEnd, err error) {
	defer recoverTo(&err, "breadcrumb.dead_end.log")

	session, err := a.resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Approach) == "" || strings.TrimSpace(req.WhyFailed) == "" {
		return nil, newError(ErrInvalidInput, "approach and why_failed are both required")
	}
	projectID, err := a.projectForSession(session, req.ProjectID)
	if err != nil {
		return nil, err
	}

	deadEnd := models.NewDeadEnd(projectID, session.SessionID, req.Approach, req.WhyFailed, clampImpact(req.Impact))
	deadEnd.GoalID = req.GoalID
	deadEnd.SubtaskID = req.SubtaskID
	deadEnd.TransactionID = req.TransactionID
	deadEnd.Subject = req.Subject
	if err := a.breadcrumbs.CreateDeadEnd(deadEnd); err != nil {
		return nil, databaseError("log dead end", err)
	}
	return deadEnd, nil
}

// LogMistake appends a mistake breadcrumb.
func (a *API) LogMistake(req models.MistakeLogInput) (result *models.Mistake, err error) {
	defer recoverTo(&err, "breadcrumb.mistake.log")

	session, err := a.resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Mistake) == "" || strings.TrimSpace(req.WhyWrong) == "" {
		return nil, newError(ErrInvalidInput, "mistake and why_wrong are both required")
	}

	mistake := models.NewMistake(session.SessionID, req.Mistake, req.WhyWrong)
	mistake.GoalID = req.GoalID
	mistake.ProjectID = req.ProjectID
	mistake.TransactionID = req.TransactionID
	mistake.CostEstimate = req.CostEstimate
	mistake.RootCauseVector = req.RootCauseVector
	mistake.Prevention = req.Prevention
	if err := a.mistakes.Create(mistake); err != nil {
		return nil, databaseError("log mistake", err)
	}
	return mistake, nil
}

// FindingVerify re-verifies a finding, resetting its staleness decay
// clock and optionally updating its text and subject git hash.
func (a *API) FindingVerify(findingID string, newGitHash, updatedText *string) (result *models.Finding, err error) {
	defer recoverTo(&err, "breadcrumb.finding.verify")

	finding, ferr := a.breadcrumbs.GetFinding(findingID)
	if ferr != nil {
		return nil, databaseError("load finding", ferr)
	}
	if finding == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no finding %s", findingID))
	}
	if err := a.breadcrumbs.VerifyFinding(findingID, newGitHash, updatedText); err != nil {
		return nil, databaseError("verify finding", err)
	}
	return a.breadcrumbs.GetFinding(findingID)
}

// BreadcrumbQueryRequest is the input to breadcrumb.query.
type BreadcrumbQueryRequest struct {
	SessionRef   string  `json:"session_id"`
	ProjectID    string  `json:"project_id,omitempty"`
	Query        string  `json:"query"`
	ShowFindings bool    `json:"findings"`
	ShowUnknowns bool    `json:"unknowns"`
	ShowDeadEnds bool    `json:"dead_ends"`
	Limit        int     `json:"limit,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
}

// BreadcrumbQuery fuzzy-searches a project's breadcrumbs. With no type
// filter set, all three breadcrumb kinds are searched.
func (a *API) BreadcrumbQuery(req BreadcrumbQueryRequest) (result []search.SearchResult, err error) {
	defer recoverTo(&err, "breadcrumb.query")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, newError(ErrInvalidInput, "query text is required")
	}
	projectID, err := a.projectForSession(session, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if !req.ShowFindings && !req.ShowUnknowns && !req.ShowDeadEnds {
		req.ShowFindings, req.ShowUnknowns, req.ShowDeadEnds = true, true, true
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}

	var items []search.SearchItem
	if req.ShowFindings {
		findings, ferr := a.breadcrumbs.ListFindings(projectID, "", 500)
		if ferr != nil {
			return nil, databaseError("list findings", ferr)
		}
		for _, f := range findings {
			scope := ""
			if f.Subject != nil {
				scope = *f.Subject
			}
			items = append(items, search.SearchItem{ID: f.ID, Type: "finding", Text: f.Finding, Scope: scope})
		}
	}
	if req.ShowUnknowns {
		unknowns, uerr := a.breadcrumbs.ListUnknowns(projectID, "", nil, 500)
		if uerr != nil {
			return nil, databaseError("list unknowns", uerr)
		}
		for _, u := range unknowns {
			scope := ""
			if u.Subject != nil {
				scope = *u.Subject
			}
			items = append(items, search.SearchItem{ID: u.ID, Type: "unknown", Text: u.Unknown, Scope: scope})
		}
	}
	if req.ShowDeadEnds {
		deadEnds, derr := a.breadcrumbs.ListDeadEnds(projectID, "", 500)
		if derr != nil {
			return nil, databaseError("list dead ends", derr)
		}
		for _, d := range deadEnds {
			scope := ""
			if d.Subject != nil {
				scope = *d.Subject
			}
			items = append(items, search.SearchItem{ID: d.ID, Type: "dead_end", Text: d.Approach, SecondaryText: d.WhyFailed, Scope: scope})
		}
	}

	results := search.FuzzySearch(req.Query, items, threshold)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
