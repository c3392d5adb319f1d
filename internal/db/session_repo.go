package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nubaeon/empirica/internal/models"
)

// SessionRepository handles session database operations.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session inside its own transaction.
func (r *SessionRepository) Create(session *models.Session) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO sessions (
				session_id, ai_id, user_id, start_time, components_loaded,
				total_turns, total_cascades, drift_detected, bootstrap_level,
				project_id, subject, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			session.SessionID,
			session.AIID,
			session.UserID,
			session.StartTime,
			session.ComponentsLoaded,
			session.TotalTurns,
			session.TotalCascades,
			session.DriftDetected,
			session.BootstrapLevel,
			session.ProjectID,
			session.Subject,
			session.CreatedAt,
		)
		return err
	})
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(sessionID string) (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE session_id = ?`
	err := r.db.Get(&session, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// List lists sessions with optional filtering.
func (r *SessionRepository) List(aiID string, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	var query string
	var args []interface{}

	if aiID != "" {
		query = `SELECT * FROM sessions WHERE ai_id = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{aiID, limit}
	} else {
		query = `SELECT * FROM sessions ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	err := r.db.Select(&sessions, query, args...)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetLatest gets the most recent session for an AI.
func (r *SessionRepository) GetLatest(aiID string) (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE ai_id = ? ORDER BY created_at DESC LIMIT 1`
	err := r.db.Get(&session, query, aiID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetLatestOverall gets the most recently created session regardless of
// ai_id, used by the "latest"/"last"/"auto" alias forms.
func (r *SessionRepository) GetLatestOverall() (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions ORDER BY created_at DESC LIMIT 1`
	err := r.db.Get(&session, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetLatestActive gets the most recent session across all AIs that has not
// ended yet (end_time IS NULL), used by the "latest:active" alias form.
func (r *SessionRepository) GetLatestActive() (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE end_time IS NULL ORDER BY created_at DESC LIMIT 1`
	err := r.db.Get(&session, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetLatestActiveByAI gets the most recent still-open session for a
// specific ai_id, used by the "latest:active:<ai_id>" alias form.
func (r *SessionRepository) GetLatestActiveByAI(aiID string) (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE ai_id = ? AND end_time IS NULL ORDER BY created_at DESC LIMIT 1`
	err := r.db.Get(&session, query, aiID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByIDPrefix returns every session whose session_id starts with prefix,
// used to resolve an unambiguous UUID-prefix alias. Callers treat more than
// one match as ambiguous.
func (r *SessionRepository) FindByIDPrefix(prefix string) ([]*models.Session, error) {
	var sessions []*models.Session
	query := `SELECT * FROM sessions WHERE session_id LIKE ? ORDER BY created_at DESC`
	err := r.db.Select(&sessions, query, prefix+"%")
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// AllIDs returns every known session_id, used to generate near-match
// suggestions when an alias fails to resolve.
func (r *SessionRepository) AllIDs() ([]string, error) {
	var ids []string
	query := `SELECT session_id FROM sessions ORDER BY created_at DESC`
	err := r.db.Select(&ids, query)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Update updates a session.
func (r *SessionRepository) Update(session *models.Session) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE sessions SET
				end_time = ?,
				total_turns = ?,
				total_cascades = ?,
				avg_confidence = ?,
				drift_detected = ?,
				session_notes = ?,
				bootstrap_level = ?
			WHERE session_id = ?
		`
		_, err := tx.Exec(query,
			session.EndTime,
			session.TotalTurns,
			session.TotalCascades,
			session.AvgConfidence,
			session.DriftDetected,
			session.SessionNotes,
			session.BootstrapLevel,
			session.SessionID,
		)
		return err
	})
}

// End marks a session as ended.
func (r *SessionRepository) End(sessionID string) error {
	now := time.Now()
	query := `UPDATE sessions SET end_time = ? WHERE session_id = ?`
	_, err := r.db.Exec(query, now, sessionID)
	return err
}

// ReflexRepository handles reflex (epistemic checkpoint) database operations.
type ReflexRepository struct {
	db *DB
}

// NewReflexRepository creates a new reflex repository.
func NewReflexRepository(db *DB) *ReflexRepository {
	return &ReflexRepository{db: db}
}

// Create creates a new reflex.
func (r *ReflexRepository) Create(reflex *models.Reflex) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO reflexes (
				session_id, cascade_id, phase, round, timestamp, transaction_id,
				engagement, know, do_vec, context, clarity, coherence,
				signal, density, state, change, completion, impact, uncertainty,
				reasoning, evidence, project_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		result, err := tx.Exec(query,
			reflex.SessionID,
			reflex.CascadeID,
			reflex.Phase,
			reflex.Round,
			reflex.Timestamp,
			reflex.TransactionID,
			reflex.Engagement,
			reflex.Know,
			reflex.Do,
			reflex.Context,
			reflex.Clarity,
			reflex.Coherence,
			reflex.Signal,
			reflex.Density,
			reflex.State,
			reflex.Change,
			reflex.Completion,
			reflex.Impact,
			reflex.Uncertainty,
			reflex.Reasoning,
			reflex.Evidence,
			reflex.ProjectID,
		)
		if err != nil {
			return err
		}

		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		reflex.ID = id
		return nil
	})
}

// GetLatestByPhase gets the most recent reflex for a session and phase.
func (r *ReflexRepository) GetLatestByPhase(sessionID, phase string) (*models.Reflex, error) {
	var reflex models.Reflex
	query := `
		SELECT * FROM reflexes
		WHERE session_id = ? AND phase = ?
		ORDER BY id DESC LIMIT 1
	`
	err := r.db.Get(&reflex, query, sessionID, phase)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reflex, nil
}

// ListBySession lists all reflexes for a session.
func (r *ReflexRepository) ListBySession(sessionID string, limit int) ([]*models.Reflex, error) {
	var reflexes []*models.Reflex
	query := `SELECT * FROM reflexes WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	err := r.db.Select(&reflexes, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return reflexes, nil
}

// ListByTransaction lists all reflexes sharing a transaction ID, in round
// order, for drift/calibration comparison across a CASCADE pass.
func (r *ReflexRepository) ListByTransaction(transactionID string) ([]*models.Reflex, error) {
	var reflexes []*models.Reflex
	query := `SELECT * FROM reflexes WHERE transaction_id = ? ORDER BY id ASC`
	err := r.db.Select(&reflexes, query, transactionID)
	if err != nil {
		return nil, err
	}
	return reflexes, nil
}

// OpenTransaction returns the transaction_id of the session's most recent
// epistemic transaction that has not been closed by a POSTFLIGHT reflex, or
// "" when every transaction is closed (or none exists yet).
func (r *ReflexRepository) OpenTransaction(sessionID string) (string, error) {
	var txnID string
	query := `
		SELECT transaction_id FROM reflexes
		WHERE session_id = ? AND transaction_id != ''
		  AND transaction_id NOT IN (
			SELECT transaction_id FROM reflexes
			WHERE session_id = ? AND phase = 'POSTFLIGHT'
		  )
		ORDER BY id DESC LIMIT 1
	`
	err := r.db.Get(&txnID, query, sessionID, sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return txnID, nil
}

// StaleTransaction identifies an open transaction whose newest reflex is
// older than an admin-chosen horizon, a candidate for force-close.
type StaleTransaction struct {
	SessionID     string  `db:"session_id"`
	TransactionID string  `db:"transaction_id"`
	LastTimestamp float64 `db:"last_timestamp"`
}

// ListStaleOpenTransactions returns every open transaction whose most
// recent reflex predates the given unix-seconds cutoff.
func (r *ReflexRepository) ListStaleOpenTransactions(cutoff float64) ([]*StaleTransaction, error) {
	var stale []*StaleTransaction
	query := `
		SELECT session_id, transaction_id, MAX(timestamp) AS last_timestamp
		FROM reflexes
		WHERE transaction_id != ''
		  AND transaction_id NOT IN (
			SELECT transaction_id FROM reflexes WHERE phase = 'POSTFLIGHT'
		  )
		GROUP BY session_id, transaction_id
		HAVING MAX(timestamp) < ?
	`
	if err := r.db.Select(&stale, query, cutoff); err != nil {
		return nil, err
	}
	return stale, nil
}

// GetDelta calculates the epistemic delta between a session's preflight and
// postflight reflexes.
func (r *ReflexRepository) GetDelta(sessionID string) (*models.EpistemicVectors, error) {
	preflight, err := r.GetLatestByPhase(sessionID, string(models.PhasePreflight))
	if err != nil || preflight == nil {
		return nil, err
	}

	postflight, err := r.GetLatestByPhase(sessionID, string(models.PhasePostflight))
	if err != nil || postflight == nil {
		return nil, err
	}

	preVectors := preflight.ToVectors()
	postVectors := postflight.ToVectors()

	return postVectors.Delta(preVectors), nil
}

// CascadeRepository handles cascade database operations.
type CascadeRepository struct {
	db *DB
}

// NewCascadeRepository creates a new cascade repository.
func NewCascadeRepository(db *DB) *CascadeRepository {
	return &CascadeRepository{db: db}
}

// Create creates a new cascade.
func (r *CascadeRepository) Create(cascade *models.Cascade) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO cascades (
				cascade_id, session_id, task, context_json, goal_id,
				preflight_completed, investigate_completed, check_completed,
				act_completed, postflight_completed,
				investigation_rounds, started_at, drift_monitored
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			cascade.CascadeID,
			cascade.SessionID,
			cascade.Task,
			cascade.ContextJSON,
			cascade.GoalID,
			cascade.PreflightCompleted,
			cascade.InvestigateCompleted,
			cascade.CheckCompleted,
			cascade.ActCompleted,
			cascade.PostflightCompleted,
			cascade.InvestigationRounds,
			cascade.StartedAt,
			cascade.DriftMonitored,
		)
		return err
	})
}

// Get retrieves a cascade by ID.
func (r *CascadeRepository) Get(cascadeID string) (*models.Cascade, error) {
	var cascade models.Cascade
	query := `SELECT * FROM cascades WHERE cascade_id = ?`
	err := r.db.Get(&cascade, query, cascadeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cascade, nil
}

// phaseColumns maps a canonical CASCADE phase to its completion column.
var phaseColumns = map[models.CASCADEPhase]string{
	models.PhasePreflight:   "preflight_completed",
	models.PhaseInvestigate: "investigate_completed",
	models.PhaseCheck:       "check_completed",
	models.PhaseAct:         "act_completed",
	models.PhasePostflight:  "postflight_completed",
}

// UpdatePhase updates a cascade phase completion status.
func (r *CascadeRepository) UpdatePhase(cascadeID string, phase models.CASCADEPhase, completed bool) error {
	column, ok := phaseColumns[phase]
	if !ok {
		return fmt.Errorf("unknown phase: %s", phase)
	}

	query := fmt.Sprintf("UPDATE cascades SET %s = ? WHERE cascade_id = ?", column)
	_, err := r.db.Exec(query, completed, cascadeID)
	return err
}

// IncrementInvestigationRound bumps a cascade's investigation round counter
// and returns the new round number.
func (r *CascadeRepository) IncrementInvestigationRound(cascadeID string) (int, error) {
	_, err := r.db.Exec(`UPDATE cascades SET investigation_rounds = investigation_rounds + 1 WHERE cascade_id = ?`, cascadeID)
	if err != nil {
		return 0, err
	}
	var round int
	err = r.db.Get(&round, `SELECT investigation_rounds FROM cascades WHERE cascade_id = ?`, cascadeID)
	return round, err
}

// SetEngagementGate records whether a cascade's engagement gate passed.
func (r *CascadeRepository) SetEngagementGate(cascadeID string, passed bool) error {
	_, err := r.db.Exec(`UPDATE cascades SET engagement_gate_passed = ? WHERE cascade_id = ?`, passed, cascadeID)
	return err
}

// GetByTransaction returns the cascade whose id doubles as the given
// transaction id, or nil when the transaction runs cascade-less.
func (r *CascadeRepository) GetByTransaction(transactionID string) (*models.Cascade, error) {
	return r.Get(transactionID)
}

// AvgFinalConfidence averages final_confidence across a session's completed
// cascades, feeding the session's avg_confidence summary column.
func (r *CascadeRepository) AvgFinalConfidence(sessionID string) (*float64, error) {
	var avg sql.NullFloat64
	query := `SELECT AVG(final_confidence) FROM cascades WHERE session_id = ? AND final_confidence IS NOT NULL`
	if err := r.db.Get(&avg, query, sessionID); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// Complete marks a cascade as completed.
func (r *CascadeRepository) Complete(cascadeID string, action string, confidence float64) error {
	now := time.Now()
	query := `
		UPDATE cascades SET
			completed_at = ?,
			final_action = ?,
			final_confidence = ?
		WHERE cascade_id = ?
	`
	_, err := r.db.Exec(query, now, action, confidence, cascadeID)
	return err
}

// HandoffRepository handles handoff report database operations.
type HandoffRepository struct {
	db *DB
}

// NewHandoffRepository creates a new handoff repository.
func NewHandoffRepository(db *DB) *HandoffRepository {
	return &HandoffRepository{db: db}
}

// Create creates a new handoff report.
func (r *HandoffRepository) Create(input *models.HandoffCreateInput, aiID string) (*models.HandoffReport, error) {
	now := time.Now()

	keyFindingsJSON, _ := json.Marshal(input.KeyFindings)
	unknownsJSON, _ := json.Marshal(input.RemainingUnknowns)
	artifactsJSON, _ := json.Marshal(input.Artifacts)

	var projectID *string
	if input.ProjectID != "" {
		projectID = &input.ProjectID
	}

	report := &models.HandoffReport{
		SessionID:          input.SessionID,
		AIID:               aiID,
		ProjectID:          projectID,
		Timestamp:          now.Format(time.RFC3339),
		TaskSummary:        &input.TaskSummary,
		KeyFindings:        strPtr(string(keyFindingsJSON)),
		RemainingUnknowns:  strPtr(string(unknownsJSON)),
		NextSessionContext: strPtr(input.NextSessionContext),
		ArtifactsCreated:   strPtr(string(artifactsJSON)),
		CreatedAt:          float64(now.UnixMilli()) / 1000.0,
	}

	err := withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO handoff_reports (
				session_id, ai_id, project_id, timestamp, task_summary,
				key_findings, remaining_unknowns, next_session_context,
				artifacts_created, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			report.SessionID,
			report.AIID,
			report.ProjectID,
			report.Timestamp,
			report.TaskSummary,
			report.KeyFindings,
			report.RemainingUnknowns,
			report.NextSessionContext,
			report.ArtifactsCreated,
			report.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// Get retrieves a handoff report by session ID.
func (r *HandoffRepository) Get(sessionID string) (*models.HandoffReport, error) {
	var report models.HandoffReport
	query := `SELECT * FROM handoff_reports WHERE session_id = ?`
	err := r.db.Get(&report, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// List lists handoff reports filtered by project and/or AI ID.
func (r *HandoffRepository) List(projectID, aiID string, limit int) ([]*models.HandoffReport, error) {
	var reports []*models.HandoffReport
	var query string
	var args []interface{}

	if projectID != "" && aiID != "" {
		query = `SELECT * FROM handoff_reports WHERE project_id = ? AND ai_id = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{projectID, aiID, limit}
	} else if projectID != "" {
		query = `SELECT * FROM handoff_reports WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{projectID, limit}
	} else if aiID != "" {
		query = `SELECT * FROM handoff_reports WHERE ai_id = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{aiID, limit}
	} else {
		query = `SELECT * FROM handoff_reports ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	err := r.db.Select(&reports, query, args...)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func strPtr(s string) *string {
	return &s
}
