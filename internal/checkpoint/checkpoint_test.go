package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/signing"
)

func testRepoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("seed\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README")
	require.NoError(t, err)
	_, err = wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@localhost", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func testStore(t *testing.T, repoDir string) (*Store, *db.DB, *db.SessionRepository) {
	t.Helper()
	sqlite, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	repo := db.NewCheckpointRepository(sqlite)
	return NewStore(repo, repoDir, ""), sqlite, db.NewSessionRepository(sqlite)
}

func seedSession(t *testing.T, sessions *db.SessionRepository) *models.Session {
	t.Helper()
	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))
	return session
}

func sampleInput(sessionID string) models.CheckpointCreateInput {
	vectors := models.NewDefaultVectors()
	vectors.Know = 0.7
	return models.CheckpointCreateInput{
		SessionID: sessionID,
		AIID:      "agent-A",
		Phase:     "PREFLIGHT",
		Round:     1,
		Vectors:   vectors,
	}
}

func TestWriteAndReadCheckpoint(t *testing.T) {
	repoDir := testRepoDir(t)
	store, _, sessions := testStore(t, repoDir)
	session := seedSession(t, sessions)

	cp, err := store.WriteCheckpoint(sampleInput(session.SessionID), store.HeadCommit(), nil)
	require.NoError(t, err)
	assert.True(t, cp.SyncedToNotes, "with a live repo the note mirror succeeds")
	assert.NotEmpty(t, cp.ContentHash)
	require.NotNil(t, cp.GitCommit)

	got, err := store.ReadCheckpoint(cp.CheckpointID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.VectorsJSON, got.VectorsJSON, "round-trip is byte-identical")
	assert.Equal(t, cp.ContentHash, got.ContentHash)
}

func TestWriteCheckpointWithoutGit(t *testing.T) {
	store, _, sessions := testStore(t, t.TempDir())
	session := seedSession(t, sessions)

	assert.False(t, store.GitAvailable())
	assert.Nil(t, store.HeadCommit())

	cp, err := store.WriteCheckpoint(sampleInput(session.SessionID), nil, nil)
	require.NoError(t, err, "a missing repo degrades to a sqlite-only write")
	assert.False(t, cp.SyncedToNotes)
}

func TestNotesWinOnDisagreement(t *testing.T) {
	repoDir := testRepoDir(t)
	store, sqlite, sessions := testStore(t, repoDir)
	session := seedSession(t, sessions)

	cp, err := store.WriteCheckpoint(sampleInput(session.SessionID), store.HeadCommit(), nil)
	require.NoError(t, err)
	notesContent := cp.VectorsJSON

	// Simulate a SQLite row that lost a race against a peer's notes write.
	_, err = sqlite.Exec(`UPDATE checkpoints SET vectors_json = ? WHERE checkpoint_id = ?`,
		`{"canon":"v1","payload":{"know":0.0}}`, cp.CheckpointID)
	require.NoError(t, err)

	got, err := store.ReadCheckpoint(cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, notesContent, got.VectorsJSON, "the notes copy wins a disagreement")
	assert.Equal(t, signing.ContentHash([]byte(notesContent)), got.ContentHash)
}

func TestReconcileRetriesDeferredMirrors(t *testing.T) {
	repoDir := testRepoDir(t)

	// First store has no git repo: the write is recorded unsynced.
	sqlite, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	checkpointRepo := db.NewCheckpointRepository(sqlite)
	sessions := db.NewSessionRepository(sqlite)
	session := seedSession(t, sessions)

	offline := NewStore(checkpointRepo, t.TempDir(), "")
	cp, err := offline.WriteCheckpoint(sampleInput(session.SessionID), nil, nil)
	require.NoError(t, err)
	require.False(t, cp.SyncedToNotes)

	pending, err := checkpointRepo.ListUnsynced(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A store bound to the real repo reconciles the backlog.
	online := NewStore(checkpointRepo, repoDir, "")
	synced, err := online.Reconcile(10)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	pending, err = checkpointRepo.ListUnsynced(10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := online.Reconcile(10)
	require.NoError(t, err)
	assert.Zero(t, again, "reconcile is idempotent")
}

func TestSignedCheckpoint(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	repoDir := testRepoDir(t)
	store, _, sessions := testStore(t, repoDir)
	session := seedSession(t, sessions)

	identity, err := signing.GenerateIdentity("agent-A")
	require.NoError(t, err)

	cp, err := store.WriteCheckpoint(sampleInput(session.SessionID), store.HeadCommit(), identity)
	require.NoError(t, err)
	require.NotNil(t, cp.Signature)
	assert.True(t, signing.Verify(identity.PublicKeyBase64(), []byte(cp.VectorsJSON), *cp.Signature))
}

func TestNotePathFanout(t *testing.T) {
	dir, file := notePath("abcdef")
	assert.Equal(t, "ab", dir)
	assert.Equal(t, "cdef", file)

	dir, file = notePath("ab")
	assert.Empty(t, dir)
	assert.Equal(t, "ab", file)
}
