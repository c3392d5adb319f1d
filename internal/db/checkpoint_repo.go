package db

import (
	"database/sql"

	"github.com/Nubaeon/empirica/internal/models"
)

// CheckpointRepository handles checkpoint database operations. Checkpoints
// are written to SQLite first; the caller (internal/checkpoint) mirrors them
// into a git notes ref best-effort and calls MarkSynced on success.
type CheckpointRepository struct {
	db *DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Create writes a new checkpoint row. The (git_commit, session_id, phase,
// round) unique constraint rejects a duplicate checkpoint for the same
// commit/phase/round pair.
func (r *CheckpointRepository) Create(cp *models.Checkpoint) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO checkpoints (
				checkpoint_id, session_id, cascade_id, ai_id, phase, round,
				vectors_json, content_hash, git_commit, notes_ref, signature,
				created_at, synced_to_notes, reconciled_from
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			cp.CheckpointID,
			cp.SessionID,
			cp.CascadeID,
			cp.AIID,
			cp.Phase,
			cp.Round,
			cp.VectorsJSON,
			cp.ContentHash,
			cp.GitCommit,
			cp.NotesRef,
			cp.Signature,
			cp.CreatedAt,
			cp.SyncedToNotes,
			cp.ReconciledFrom,
		)
		return err
	})
}

// Get retrieves a checkpoint by its ID.
func (r *CheckpointRepository) Get(checkpointID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	query := `SELECT * FROM checkpoints WHERE checkpoint_id = ?`
	err := r.db.Get(&cp, query, checkpointID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListBySession returns every checkpoint for a session, most recent first.
func (r *CheckpointRepository) ListBySession(sessionID string) ([]*models.Checkpoint, error) {
	var cps []*models.Checkpoint
	query := `SELECT * FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC`
	if err := r.db.Select(&cps, query, sessionID); err != nil {
		return nil, err
	}
	return cps, nil
}

// GetByCommitPhaseRound looks up the checkpoint matching the full uniqueness
// key (git commit, session, phase, round), or nil when there is none.
func (r *CheckpointRepository) GetByCommitPhaseRound(gitCommit, sessionID, phase string, round int) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	query := `SELECT * FROM checkpoints WHERE git_commit = ? AND session_id = ? AND phase = ? AND round = ?`
	err := r.db.Get(&cp, query, gitCommit, sessionID, phase, round)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetBySessionPhaseRound returns the newest checkpoint for a
// (session, phase, round) triple, or nil when none exists.
func (r *CheckpointRepository) GetBySessionPhaseRound(sessionID, phase string, round int) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	query := `
		SELECT * FROM checkpoints
		WHERE session_id = ? AND phase = ? AND round = ?
		ORDER BY created_at DESC LIMIT 1
	`
	err := r.db.Get(&cp, query, sessionID, phase, round)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListUnsynced returns checkpoints whose git-notes mirror write failed (or
// was deferred), oldest first, for the background reconciler to retry.
func (r *CheckpointRepository) ListUnsynced(limit int) ([]*models.Checkpoint, error) {
	var cps []*models.Checkpoint
	query := `SELECT * FROM checkpoints WHERE synced_to_notes = 0 ORDER BY created_at ASC LIMIT ?`
	if err := r.db.Select(&cps, query, limit); err != nil {
		return nil, err
	}
	return cps, nil
}

// MarkSynced flags a checkpoint as mirrored into the git notes ref.
func (r *CheckpointRepository) MarkSynced(checkpointID string) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `UPDATE checkpoints SET synced_to_notes = 1 WHERE checkpoint_id = ?`
		_, err := tx.Exec(query, checkpointID)
		return err
	})
}

// MarkReconciled records which side (sqlite or notes) won a content
// disagreement during a read-through reconciliation.
func (r *CheckpointRepository) MarkReconciled(checkpointID, wonBy string) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `UPDATE checkpoints SET reconciled_from = ? WHERE checkpoint_id = ?`
		_, err := tx.Exec(query, wonBy, checkpointID)
		return err
	})
}
