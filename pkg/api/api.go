package api

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nubaeon/empirica/internal/alias"
	"github.com/Nubaeon/empirica/internal/checkpoint"
	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/drift"
	"github.com/Nubaeon/empirica/internal/engine"
	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/resolver"
)

// Config carries the knobs a deployment may override. Gate thresholds are
// configurable but must be documented: any non-default value is logged at
// open time so an audit of the logs shows which thresholds were in force.
type Config struct {
	// DBPath locates the SQLite store; empty uses db.DefaultDBPath().
	DBPath string
	// RepoPath is the working copy whose HEAD checkpoints attach to;
	// empty uses the current directory.
	RepoPath string
	// NotesRef overrides the git notes ref; empty uses models.DefaultNotesRef.
	NotesRef string
	// Thresholds are the gate thresholds; zero value uses engine defaults.
	Thresholds engine.Thresholds
	// Drift configures successive-assessment drift detection.
	Drift drift.Config
	// ForceCloseHorizon is the age past which an open transaction may be
	// force-closed by ForceCloseStale. Default 72h.
	ForceCloseHorizon time.Duration
}

// DefaultForceCloseHorizon is the default abandoned-transaction horizon.
const DefaultForceCloseHorizon = 72 * time.Hour

// API is the engine's one supported entrypoint. All repositories hang off
// a single store handle threaded through explicitly; there is no package
// level registry (callers that want a cached handle own it).
type API struct {
	store *db.DB

	sessions    *db.SessionRepository
	cascades    *db.CascadeRepository
	reflexes    *db.ReflexRepository
	goals       *db.GoalRepository
	subtasks    *db.SubtaskRepository
	breadcrumbs *db.BreadcrumbRepository
	mistakes    *db.MistakeRepository
	projects    *db.ProjectRepository
	handoffs    *db.HandoffRepository
	identities  *db.IdentityRepository
	branches    *db.BranchRepository
	calibration *db.CalibrationRepository
	evidence    *db.EpistemicSourceRepository

	checkpointRows *db.CheckpointRepository

	checkpoints *checkpoint.Store
	aliases     *alias.Resolver
	active      *resolver.Resolver

	thresholds engine.Thresholds
	driftCfg   drift.Config
	horizon    time.Duration
}

// Open opens (creating if needed) the store and assembles the API.
func Open(cfg Config) (*API, error) {
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	repoPath := cfg.RepoPath
	if repoPath == "" {
		repoPath = "."
	}

	thresholds := cfg.Thresholds
	if thresholds == (engine.Thresholds{}) {
		thresholds = engine.DefaultThresholds()
	} else if thresholds != engine.DefaultThresholds() {
		log.Info().
			Float64("know", thresholds.Know).
			Float64("uncertainty", thresholds.Uncertainty).
			Float64("engagement", thresholds.Engagement).
			Msg("non-default gate thresholds in force")
	}

	driftCfg := cfg.Drift
	if driftCfg.Window <= 0 {
		driftCfg = drift.DefaultConfig()
	}

	horizon := cfg.ForceCloseHorizon
	if horizon <= 0 {
		horizon = DefaultForceCloseHorizon
	}

	sessions := db.NewSessionRepository(store)
	checkpointRepo := db.NewCheckpointRepository(store)

	active, err := resolver.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize instance resolver: %w", err)
	}

	a := &API{
		store:          store,
		sessions:       sessions,
		cascades:       db.NewCascadeRepository(store),
		reflexes:       db.NewReflexRepository(store),
		goals:          db.NewGoalRepository(store),
		subtasks:       db.NewSubtaskRepository(store),
		breadcrumbs:    db.NewBreadcrumbRepository(store),
		mistakes:       db.NewMistakeRepository(store),
		projects:       db.NewProjectRepository(store),
		handoffs:       db.NewHandoffRepository(store),
		identities:     db.NewIdentityRepository(store),
		branches:       db.NewBranchRepository(store),
		calibration:    db.NewCalibrationRepository(store),
		evidence:       db.NewEpistemicSourceRepository(store),
		checkpointRows: checkpointRepo,
		checkpoints:    checkpoint.NewStore(checkpointRepo, repoPath, cfg.NotesRef),
		aliases:        alias.New(sessions),
		active:         active,
		thresholds:     thresholds,
		driftCfg:       driftCfg,
		horizon:        horizon,
	}
	return a, nil
}

// Close releases the store handle.
func (a *API) Close() error {
	return a.store.Close()
}

// Thresholds returns the gate thresholds in force.
func (a *API) Thresholds() engine.Thresholds {
	return a.thresholds
}

// recoverTo converts a panic below the API boundary into a database_error
// carrying a diagnostic tag, so programmer errors never unwind past the
// public surface.
func recoverTo(errp *error, op string) {
	if p := recover(); p != nil {
		log.Error().Str("op", op).Interface("panic", p).Bytes("stack", debug.Stack()).Msg("internal panic recovered")
		*errp = newError(ErrDatabase, fmt.Sprintf("internal error in %s", op)).
			withContext(map[string]any{"diagnostic": fmt.Sprintf("panic: %v", p)})
	}
}

// resolveSession turns a session ref — a UUID, prefix, alias, or "" (use
// the calling instance's active session) — into a concrete session row.
func (a *API) resolveSession(ref string) (*models.Session, error) {
	if ref == "" {
		ctx, err := a.active.Load()
		if err != nil || ctx == nil || ctx.SessionID == "" {
			return nil, newError(ErrSessionNotFound, "no session ref given and no active session for this instance").
				withSuggestion("create a session first, or pass an explicit session id or alias").
				withRecovery("session.create", "session.get latest:active")
		}
		if ctx.IsStale(0, time.Now()) {
			return nil, newError(ErrSessionNotFound, "the active-session pointer for this instance is stale").
				withRecovery("session.create", "session.get latest:active")
		}
		ref = ctx.SessionID
	}

	session, err := a.aliases.Resolve(ref)
	if err != nil {
		if resErr, ok := err.(*alias.ResolutionError); ok {
			return nil, newError(ErrSessionNotFound, resErr.Reason).
				withAlternatives(resErr.Suggestions).
				withContext(map[string]any{"ref": resErr.Alias})
		}
		return nil, databaseError("resolve session", err)
	}
	return session, nil
}

// rememberActive records the (session, cascade) pair as this instance's
// active context, so subsequent unqualified calls target it.
func (a *API) rememberActive(sessionID, cascadeID string) {
	err := a.active.Save(resolver.ActiveContext{
		SessionID: sessionID,
		CascadeID: cascadeID,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		log.Debug().Err(err).Msg("failed to persist active-session pointer")
	}
}
