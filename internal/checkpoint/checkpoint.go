package checkpoint

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/signing"
)

// NotesAuthorName and NotesAuthorEmail identify the synthetic commit author
// used for every notes-ref commit; checkpoints are machine-written records,
// not attributable to a single git user.
const (
	NotesAuthorName  = "empirica"
	NotesAuthorEmail = "empirica@localhost"
)

// Store writes checkpoints to SQLite first and mirrors them into a git
// notes ref best-effort: a checkpoint write never fails because the git
// mirror failed.
type Store struct {
	repos    *db.CheckpointRepository
	repo     *git.Repository
	notesRef plumbing.ReferenceName
}

// NewStore opens the git repository at repoPath (the working copy the CLI
// is invoked from) and binds it to the given SQLite checkpoint repository.
// repoPath may not be a git repository at all — in that case git mirroring
// is simply unavailable and every WriteCheckpoint call degrades to a
// SQLite-only write.
func NewStore(repos *db.CheckpointRepository, repoPath string, notesRef string) *Store {
	if notesRef == "" {
		notesRef = models.DefaultNotesRef
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		log.Debug().Err(err).Str("path", repoPath).Msg("no git repository found; checkpoints will be sqlite-only")
		repo = nil
	}
	return &Store{repos: repos, repo: repo, notesRef: plumbing.ReferenceName(notesRef)}
}

// HeadCommit returns the hash of the working copy's HEAD commit, or nil
// when there is no git repository (or an unborn HEAD).
func (s *Store) HeadCommit() *string {
	if s.repo == nil {
		return nil
	}
	head, err := s.repo.Head()
	if err != nil {
		return nil
	}
	h := head.Hash().String()
	return &h
}

// GitAvailable reports whether a git repository was found at open time.
func (s *Store) GitAvailable() bool {
	return s.repo != nil
}

// Reconcile retries the notes mirror for up to limit checkpoints whose
// earlier mirror attempt failed. Returns how many were synced. Used by the
// background checkpoint reconciler; idempotent, safe to re-run.
func (s *Store) Reconcile(limit int) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	pending, err := s.repos.ListUnsynced(limit)
	if err != nil {
		return 0, fmt.Errorf("list unsynced checkpoints: %w", err)
	}
	synced := 0
	for _, cp := range pending {
		if err := s.mirrorToNotes(cp); err != nil {
			log.Debug().Err(err).Str("checkpoint_id", cp.CheckpointID).Msg("reconcile mirror retry failed")
			continue
		}
		if err := s.repos.MarkSynced(cp.CheckpointID); err != nil {
			return synced, fmt.Errorf("mark checkpoint synced: %w", err)
		}
		synced++
	}
	return synced, nil
}

// WriteCheckpoint persists a checkpoint to SQLite, then attempts to mirror
// it into the notes ref. A mirror failure is logged and swallowed; the
// returned checkpoint's SyncedToNotes field reflects whether the mirror
// succeeded.
func (s *Store) WriteCheckpoint(input models.CheckpointCreateInput, gitCommit *string, id *signing.Identity) (*models.Checkpoint, error) {
	canonical, err := signing.Canonicalize(input.Vectors)
	if err != nil {
		return nil, fmt.Errorf("canonicalize checkpoint payload: %w", err)
	}
	contentHash := signing.ContentHash(canonical)

	var sigStr *string
	if id != nil {
		s := signing.Sign(id, canonical)
		sigStr = &s
	}

	cp := &models.Checkpoint{
		CheckpointID: uuid.New().String(),
		SessionID:    input.SessionID,
		CascadeID:    input.CascadeID,
		AIID:         input.AIID,
		Phase:        input.Phase,
		Round:        input.Round,
		VectorsJSON:  string(canonical),
		ContentHash:  contentHash,
		GitCommit:    gitCommit,
		NotesRef:     string(s.notesRef),
		Signature:    sigStr,
		CreatedAt:    time.Now(),
	}

	if err := s.repos.Create(cp); err != nil {
		return nil, fmt.Errorf("write checkpoint to store: %w", err)
	}

	if s.repo != nil {
		if err := s.mirrorToNotes(cp); err != nil {
			log.Warn().Err(err).Str("checkpoint_id", cp.CheckpointID).Msg("git notes mirror failed; checkpoint remains sqlite-only")
		} else {
			cp.SyncedToNotes = true
			if err := s.repos.MarkSynced(cp.CheckpointID); err != nil {
				log.Warn().Err(err).Msg("failed to flag checkpoint as synced")
			}
		}
	}

	return cp, nil
}

// mirrorToNotes appends cp's canonical JSON as a note keyed by its
// checkpoint_id, creating (or fast-forwarding) a commit on s.notesRef.
func (s *Store) mirrorToNotes(cp *models.Checkpoint) error {
	dir, file := notePath(cp.CheckpointID)

	blobHash, err := storeBlob(s.repo, []byte(cp.VectorsJSON))
	if err != nil {
		return fmt.Errorf("store note blob: %w", err)
	}

	var parentHash plumbing.Hash
	var rootTreeHash plumbing.Hash
	if ref, err := s.repo.Reference(s.notesRef, true); err == nil {
		parentCommit, err := s.repo.CommitObject(ref.Hash())
		if err != nil {
			return fmt.Errorf("read notes ref commit: %w", err)
		}
		parentHash = ref.Hash()
		rootTreeHash = parentCommit.TreeHash
	}

	newTreeHash, err := putBlobAtPath(s.repo, rootTreeHash, dir, file, blobHash)
	if err != nil {
		return fmt.Errorf("update notes tree: %w", err)
	}

	commit := &object.Commit{
		TreeHash:  newTreeHash,
		Author:    object.Signature{Name: NotesAuthorName, Email: NotesAuthorEmail},
		Committer: object.Signature{Name: NotesAuthorName, Email: NotesAuthorEmail},
		Message:   fmt.Sprintf("checkpoint %s (%s round %d)", cp.CheckpointID, cp.Phase, cp.Round),
	}
	if parentHash != plumbing.ZeroHash {
		commit.ParentHashes = []plumbing.Hash{parentHash}
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return fmt.Errorf("encode notes commit: %w", err)
	}
	commitHash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("store notes commit: %w", err)
	}

	return s.repo.Storer.SetReference(plumbing.NewHashReference(s.notesRef, commitHash))
}

// ReadCheckpoint reads through to the store first; if a notes-ref mirror
// exists and its content disagrees with the SQLite row (e.g. a peer clone
// wrote a newer note the local SQLite hasn't seen), the notes copy wins and
// the disagreement is recorded via MarkReconciled; notes win a
// disagreement.
func (s *Store) ReadCheckpoint(checkpointID string) (*models.Checkpoint, error) {
	cp, err := s.repos.Get(checkpointID)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint from store: %w", err)
	}
	if cp == nil || s.repo == nil {
		return cp, nil
	}

	ref, err := s.repo.Reference(s.notesRef, true)
	if err != nil {
		return cp, nil
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return cp, nil
	}

	dir, file := notePath(checkpointID)
	content, found, err := readBlobAtPath(s.repo, commit.TreeHash, dir, file)
	if err != nil || !found {
		return cp, nil
	}

	if string(content) != cp.VectorsJSON {
		log.Info().Str("checkpoint_id", checkpointID).Msg("notes/sqlite disagreement on checkpoint content; notes wins")
		cp.VectorsJSON = string(content)
		cp.ContentHash = signing.ContentHash(content)
		if err := s.repos.MarkReconciled(checkpointID, "notes"); err != nil {
			log.Warn().Err(err).Msg("failed to record reconciliation outcome")
		}
	}

	return cp, nil
}
