// Package db provides database access for the epistemic state engine.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DB wraps the database connection. Writer transactions serialise on
// writeMu; WAL mode keeps readers concurrent with the single writer.
type DB struct {
	*sqlx.DB
	path    string
	writeMu sync.Mutex
}

// DefaultDBPath returns the default database path: the project-local
// .empirica/sessions/sessions.db when a .empirica directory exists,
// otherwise the per-user fallback under the home directory. The
// EMPIRICA_DB environment variable overrides both.
func DefaultDBPath() string {
	if v := os.Getenv("EMPIRICA_DB"); v != "" {
		return v
	}
	localPath := filepath.Join(".empirica", "sessions", "sessions.db")
	if _, err := os.Stat(".empirica"); err == nil {
		return localPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return localPath
	}
	return filepath.Join(home, ".empirica", "sessions", "sessions.db")
}

// Open opens or creates the database and brings it up to the latest schema.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultDBPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{DB: conn, path: path}

	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Debug().Str("path", path).Msg("state store opened")

	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error including a panic recovery. The writer lock is held for
// the duration so concurrent writers never hit SQLITE_BUSY.
func withTx(d *DB, fn func(tx *sql.Tx) error) (err error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migration is one numbered, idempotent schema step. Migrations are
// tracked in schema_migrations so a given deployment only ever runs new
// entries, and they only ever extend the schema additively.
type migration struct {
	version int
	name    string
	sql     string
}

func (d *DB) migrate() error {
	if _, err := d.Exec(migrationTrackerSQL); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := d.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := d.Beginx()
		if err != nil {
			return fmt.Errorf("migration %d (%s): begin tx: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): record: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): commit: %w", m.version, m.name, err)
		}
		log.Debug().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}

	return nil
}

const migrationTrackerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

var migrations = []migration{
	{1, "sessions", migrationSessions},
	{2, "cascades", migrationCascades},
	{3, "reflexes", migrationReflexes},
	{4, "goals", migrationGoals},
	{5, "subtasks", migrationSubtasks},
	{6, "projects", migrationProjects},
	{7, "findings", migrationFindings},
	{8, "unknowns", migrationUnknowns},
	{9, "dead_ends", migrationDeadEnds},
	{10, "mistakes", migrationMistakes},
	{11, "handoffs", migrationHandoffs},
	{12, "branches", migrationBranches},
	{13, "indexes", migrationIndexes},
	{14, "finding_staleness", migrationFindingStaleness},
	{15, "identities", migrationIdentities},
	{16, "checkpoints", migrationCheckpoints},
	{17, "calibration", migrationCalibration},
	{18, "reflex_uniqueness", migrationReflexUniqueness},
	{19, "calibration_trajectory", migrationCalibrationTrajectory},
	{20, "epistemic_sources", migrationEpistemicSources},
}

const migrationSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    ai_id TEXT NOT NULL,
    user_id TEXT,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP,
    components_loaded INTEGER NOT NULL DEFAULT 0,
    total_turns INTEGER DEFAULT 0,
    total_cascades INTEGER DEFAULT 0,
    avg_confidence REAL,
    drift_detected BOOLEAN DEFAULT 0,
    session_notes TEXT,
    bootstrap_level INTEGER DEFAULT 1,
    project_id TEXT,
    subject TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCascades = `
CREATE TABLE IF NOT EXISTS cascades (
    cascade_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    task TEXT NOT NULL,
    context_json TEXT,
    goal_id TEXT,
    preflight_completed BOOLEAN DEFAULT 0,
    investigate_completed BOOLEAN DEFAULT 0,
    check_completed BOOLEAN DEFAULT 0,
    act_completed BOOLEAN DEFAULT 0,
    postflight_completed BOOLEAN DEFAULT 0,
    final_action TEXT,
    final_confidence REAL,
    investigation_rounds INTEGER DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    engagement_gate_passed BOOLEAN,
    drift_monitored BOOLEAN DEFAULT 0,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationReflexes = `
CREATE TABLE IF NOT EXISTS reflexes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    cascade_id TEXT,
    phase TEXT NOT NULL,
    round INTEGER DEFAULT 1,
    timestamp REAL NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    engagement REAL,
    know REAL,
    do_vec REAL,
    context REAL,
    clarity REAL,
    coherence REAL,
    signal REAL,
    density REAL,
    state REAL,
    change REAL,
    completion REAL,
    impact REAL,
    uncertainty REAL,
    reasoning TEXT,
    evidence TEXT,
    project_id TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationGoals = `
CREATE TABLE IF NOT EXISTS goals (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    objective TEXT NOT NULL,
    scope TEXT NOT NULL,
    estimated_complexity REAL,
    created_timestamp REAL NOT NULL,
    completed_timestamp REAL,
    is_completed BOOLEAN DEFAULT 0,
    goal_data TEXT NOT NULL,
    status TEXT DEFAULT 'in_progress',
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationSubtasks = `
CREATE TABLE IF NOT EXISTS subtasks (
    id TEXT PRIMARY KEY,
    goal_id TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    epistemic_importance TEXT NOT NULL DEFAULT 'medium',
    completion_evidence TEXT,
    created_timestamp REAL NOT NULL,
    completed_timestamp REAL,
    subtask_data TEXT NOT NULL,
    FOREIGN KEY (goal_id) REFERENCES goals(id)
);
`

const migrationProjects = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    repos TEXT,
    created_timestamp REAL NOT NULL,
    last_activity_timestamp REAL,
    status TEXT DEFAULT 'active',
    total_sessions INTEGER DEFAULT 0,
    total_goals INTEGER DEFAULT 0,
    project_data TEXT NOT NULL
);
`

const migrationFindings = `
CREATE TABLE IF NOT EXISTS project_findings (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    subtask_id TEXT,
    finding TEXT NOT NULL,
    created_timestamp REAL NOT NULL,
    finding_data TEXT NOT NULL,
    subject TEXT,
    impact REAL DEFAULT 0.5,
    last_verified_timestamp REAL,
    subject_git_hash TEXT,
    FOREIGN KEY (project_id) REFERENCES projects(id)
);
`

const migrationUnknowns = `
CREATE TABLE IF NOT EXISTS project_unknowns (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    subtask_id TEXT,
    unknown TEXT NOT NULL,
    is_resolved BOOLEAN DEFAULT FALSE,
    resolved_by TEXT,
    created_timestamp REAL NOT NULL,
    resolved_timestamp REAL,
    unknown_data TEXT NOT NULL,
    subject TEXT,
    impact REAL DEFAULT 0.5,
    FOREIGN KEY (project_id) REFERENCES projects(id)
);
`

const migrationDeadEnds = `
CREATE TABLE IF NOT EXISTS project_dead_ends (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    subtask_id TEXT,
    approach TEXT NOT NULL,
    why_failed TEXT NOT NULL,
    created_timestamp REAL NOT NULL,
    dead_end_data TEXT NOT NULL,
    subject TEXT,
    impact REAL DEFAULT 0.5,
    FOREIGN KEY (project_id) REFERENCES projects(id)
);
`

const migrationMistakes = `
CREATE TABLE IF NOT EXISTS mistakes_made (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    project_id TEXT,
    mistake TEXT NOT NULL,
    why_wrong TEXT NOT NULL,
    cost_estimate TEXT,
    root_cause_vector TEXT,
    prevention TEXT,
    created_timestamp REAL NOT NULL,
    mistake_data TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationHandoffs = `
CREATE TABLE IF NOT EXISTS handoff_reports (
    session_id TEXT PRIMARY KEY,
    ai_id TEXT NOT NULL,
    project_id TEXT,
    timestamp TEXT NOT NULL,
    task_summary TEXT,
    duration_seconds REAL,
    epistemic_deltas TEXT,
    key_findings TEXT,
    knowledge_gaps_filled TEXT,
    remaining_unknowns TEXT,
    next_session_context TEXT,
    recommended_next_steps TEXT,
    artifacts_created TEXT,
    calibration_status TEXT,
    overall_confidence_delta REAL,
    compressed_json TEXT,
    markdown_report TEXT,
    created_at REAL NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationBranches = `
CREATE TABLE IF NOT EXISTS investigation_branches (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    investigation_path TEXT NOT NULL,
    git_branch_name TEXT NOT NULL,
    preflight_vectors TEXT NOT NULL,
    postflight_vectors TEXT,
    tokens_spent INTEGER DEFAULT 0,
    time_spent_minutes INTEGER DEFAULT 0,
    merge_score REAL,
    epistemic_quality REAL,
    is_winner BOOLEAN DEFAULT FALSE,
    created_timestamp REAL NOT NULL,
    checkpoint_timestamp REAL,
    merged_timestamp REAL,
    status TEXT DEFAULT 'active',
    branch_metadata TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS merge_decisions (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    investigation_round INTEGER NOT NULL,
    winning_branch_id TEXT NOT NULL,
    winning_branch_name TEXT,
    winning_score REAL NOT NULL,
    other_branches TEXT,
    decision_rationale TEXT NOT NULL,
    auto_merged BOOLEAN DEFAULT TRUE,
    created_timestamp REAL NOT NULL,
    decision_metadata TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_sessions_ai_id ON sessions(ai_id);
CREATE INDEX IF NOT EXISTS idx_sessions_project_id ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_cascades_session_id ON cascades(session_id);
CREATE INDEX IF NOT EXISTS idx_reflexes_session_id ON reflexes(session_id);
CREATE INDEX IF NOT EXISTS idx_reflexes_phase ON reflexes(phase);
CREATE INDEX IF NOT EXISTS idx_reflexes_transaction_id ON reflexes(transaction_id);
CREATE INDEX IF NOT EXISTS idx_goals_session_id ON goals(session_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_goal_id ON subtasks(goal_id);
CREATE INDEX IF NOT EXISTS idx_findings_project_id ON project_findings(project_id);
CREATE INDEX IF NOT EXISTS idx_findings_session_id ON project_findings(session_id);
CREATE INDEX IF NOT EXISTS idx_unknowns_project_id ON project_unknowns(project_id);
CREATE INDEX IF NOT EXISTS idx_unknowns_resolved ON project_unknowns(is_resolved);
CREATE INDEX IF NOT EXISTS idx_dead_ends_project_id ON project_dead_ends(project_id);
CREATE INDEX IF NOT EXISTS idx_mistakes_session_id ON mistakes_made(session_id);
CREATE INDEX IF NOT EXISTS idx_branches_session_id ON investigation_branches(session_id);
`

const migrationFindingStaleness = `
CREATE INDEX IF NOT EXISTS idx_findings_last_verified ON project_findings(last_verified_timestamp);
`

const migrationIdentities = `
CREATE TABLE IF NOT EXISTS identities (
    ai_id TEXT PRIMARY KEY,
    public_key TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    label TEXT,
    revoked BOOLEAN DEFAULT 0,
    revoked_at TIMESTAMP
);
`

const migrationCheckpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
    checkpoint_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    cascade_id TEXT,
    ai_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    round INTEGER NOT NULL DEFAULT 0,
    vectors_json TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    git_commit TEXT,
    notes_ref TEXT NOT NULL,
    signature TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    synced_to_notes BOOLEAN DEFAULT 0,
    reconciled_from TEXT,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id),
    UNIQUE (git_commit, session_id, phase, round)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session_id ON checkpoints(session_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_content_hash ON checkpoints(content_hash);
`

const migrationReflexUniqueness = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_reflexes_txn_phase_round
    ON reflexes(transaction_id, phase, round)
    WHERE transaction_id != '';
`

const migrationCalibration = `
CREATE TABLE IF NOT EXISTS calibration_tracks (
    ai_id TEXT NOT NULL,
    track TEXT NOT NULL, -- 'noetic' or 'praxic'
    sample_count INTEGER DEFAULT 0,
    running_mean REAL DEFAULT 0,
    running_m2 REAL DEFAULT 0,
    last_updated TIMESTAMP,
    PRIMARY KEY (ai_id, track)
);
`

const migrationEpistemicSources = `
CREATE TABLE IF NOT EXISTS epistemic_sources (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    project_id TEXT,
    transaction_id TEXT NOT NULL,
    metric TEXT NOT NULL,
    normalised_value REAL NOT NULL,
    supports_vectors TEXT NOT NULL,
    quality REAL NOT NULL DEFAULT 1.0,
    recorded_by_ai TEXT NOT NULL,
    recorded_at REAL NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
CREATE INDEX IF NOT EXISTS idx_epistemic_sources_session ON epistemic_sources(session_id);
CREATE INDEX IF NOT EXISTS idx_epistemic_sources_txn ON epistemic_sources(transaction_id);
`

const migrationCalibrationTrajectory = `
CREATE TABLE IF NOT EXISTS calibration_trajectory (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ai_id TEXT NOT NULL,
    vector TEXT NOT NULL,
    session_id TEXT NOT NULL,
    phase_track TEXT NOT NULL, -- 'noetic' or 'praxic'
    gap REAL NOT NULL,
    mean REAL NOT NULL,
    variance REAL NOT NULL,
    sample_count INTEGER NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_calibration_trajectory_key
    ON calibration_trajectory(ai_id, vector, phase_track);
`
