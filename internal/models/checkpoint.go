package models

import "time"

// Checkpoint represents a point-in-time capture of a session's epistemic
// state, mirrored into a git notes ref so a peer working copy can read it
// without a network round trip to the SQLite store.
type Checkpoint struct {
	CheckpointID   string    `json:"checkpoint_id" db:"checkpoint_id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	CascadeID      *string   `json:"cascade_id,omitempty" db:"cascade_id"`
	AIID           string    `json:"ai_id" db:"ai_id"`
	Phase          string    `json:"phase" db:"phase"`
	Round          int       `json:"round" db:"round"`    // CHECK round this checkpoint captures, 0 for non-CHECK phases
	VectorsJSON    string    `json:"-" db:"vectors_json"` // canonical JSON of EpistemicVectors
	ContentHash    string    `json:"content_hash" db:"content_hash"`
	GitCommit      *string   `json:"git_commit,omitempty" db:"git_commit"`
	NotesRef       string    `json:"notes_ref" db:"notes_ref"`
	Signature      *string   `json:"signature,omitempty" db:"signature"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	SyncedToNotes  bool      `json:"synced_to_notes" db:"synced_to_notes"`
	ReconciledFrom *string   `json:"reconciled_from,omitempty" db:"reconciled_from"` // "sqlite" or "notes" when a disagreement was resolved
}

// CheckpointCreateInput represents input for writing a new checkpoint.
type CheckpointCreateInput struct {
	SessionID string            `json:"session_id"`
	CascadeID *string           `json:"cascade_id,omitempty"`
	AIID      string            `json:"ai_id"`
	Phase     string            `json:"phase"`
	Round     int               `json:"round"`
	Vectors   *EpistemicVectors `json:"vectors"`
}

// DefaultNotesRef is the git notes ref checkpoints are mirrored under when
// the caller does not specify one.
const DefaultNotesRef = "refs/notes/empirica/checkpoints"
