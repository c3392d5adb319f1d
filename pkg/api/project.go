package api

import (
	"fmt"
	"strings"

	"github.com/Nubaeon/empirica/internal/models"
)

// ProjectCreate registers a long-lived cross-session container.
func (a *API) ProjectCreate(req models.ProjectCreateInput) (result *models.Project, err error) {
	defer recoverTo(&err, "project.create")

	if strings.TrimSpace(req.Name) == "" {
		return nil, newError(ErrInvalidInput, "name is required")
	}
	existing, gerr := a.projects.GetByName(req.Name)
	if gerr != nil {
		return nil, databaseError("load project", gerr)
	}
	if existing != nil {
		return nil, newError(ErrInvalidInput, "a project with that name already exists").
			withContext(map[string]any{"project_id": existing.ID})
	}

	project := models.NewProject(req.Name, req.Description)
	project.Repos = req.Repos
	if err := a.projects.Create(project); err != nil {
		return nil, databaseError("create project", err)
	}
	return project, nil
}

// ProjectList lists projects, optionally filtered by status.
func (a *API) ProjectList(status *models.ProjectStatus, limit int) (result []*models.Project, err error) {
	defer recoverTo(&err, "project.list")

	if status != nil && !models.ValidProjectStatus(*status) {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("unknown project status %q", *status)).
			withAlternatives(projectStatusNames())
	}
	if limit <= 0 {
		limit = 50
	}
	projects, lerr := a.projects.List(status, limit)
	if lerr != nil {
		return nil, databaseError("list projects", lerr)
	}
	return projects, nil
}

// ProjectSetStatus moves a project between active, dormant and archived.
// Archiving only changes the container's standing; its sessions, goals and
// breadcrumbs are untouched and stay readable.
func (a *API) ProjectSetStatus(projectID string, status models.ProjectStatus) (result *models.Project, err error) {
	defer recoverTo(&err, "project.set_status")

	if !models.ValidProjectStatus(status) {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("unknown project status %q", status)).
			withAlternatives(projectStatusNames())
	}
	project, gerr := a.projects.Get(projectID)
	if gerr != nil {
		return nil, databaseError("load project", gerr)
	}
	if project == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no project %s", projectID))
	}
	if project.Status == status {
		return project, nil
	}

	project.Status = status
	if uerr := a.projects.Update(project); uerr != nil {
		return nil, databaseError("update project status", uerr)
	}
	return a.projects.Get(projectID)
}

func projectStatusNames() []string {
	return []string{
		string(models.ProjectStatusActive),
		string(models.ProjectStatusDormant),
		string(models.ProjectStatusArchived),
	}
}
