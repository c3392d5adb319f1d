package api

import (
	"encoding/json"
	"fmt"

	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/signing"
)

// CheckpointCreateRequest is the input to checkpoint.create: it snapshots
// the reflex already recorded at (session, phase, round) into a checkpoint,
// mirrored to the git notes ref.
type CheckpointCreateRequest struct {
	SessionRef string `json:"session_id"`
	Phase      string `json:"phase"`
	Round      int    `json:"round,omitempty"`
	Sign       bool   `json:"sign,omitempty"`
}

// CheckpointCreate writes a checkpoint from an existing reflex.
func (a *API) CheckpointCreate(req CheckpointCreateRequest) (result *models.Checkpoint, err error) {
	defer recoverTo(&err, "checkpoint.create")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	reflex, rerr := a.reflexes.GetLatestByPhase(session.SessionID, req.Phase)
	if rerr != nil {
		return nil, databaseError("load reflex", rerr)
	}
	if reflex == nil || (req.Round > 0 && reflex.Round != req.Round) {
		return nil, newError(ErrInsufficientData, fmt.Sprintf("no %s reflex at round %d for this session", req.Phase, req.Round)).
			withRecovery("reflex.submit_preflight")
	}

	var identity *signing.Identity
	if req.Sign {
		if id, lerr := signing.LoadIdentity(session.AIID); lerr == nil {
			identity = id
		}
	}

	cp, werr := a.checkpoints.WriteCheckpoint(models.CheckpointCreateInput{
		SessionID: session.SessionID,
		CascadeID: reflex.CascadeID,
		AIID:      session.AIID,
		Phase:     reflex.Phase,
		Round:     reflex.Round,
		Vectors:   reflex.ToVectors(),
	}, a.checkpoints.HeadCommit(), identity)
	if werr != nil {
		return nil, databaseError("write checkpoint", werr)
	}
	return cp, nil
}

// CheckpointLoad reads a checkpoint back by (session, phase, round),
// preferring the git-notes copy over SQLite per the read-through rule.
func (a *API) CheckpointLoad(sessionRef, phase string, round int) (result *models.Checkpoint, err error) {
	defer recoverTo(&err, "checkpoint.load")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}
	cp, cerr := a.checkpointRows.GetBySessionPhaseRound(session.SessionID, phase, round)
	if cerr != nil {
		return nil, databaseError("load checkpoint", cerr)
	}
	if cp == nil {
		return nil, newError(ErrInsufficientData, fmt.Sprintf("no checkpoint at (%s, %s, %d)", session.SessionID, phase, round))
	}
	// Re-read through the notes-aware path so a newer notes-side copy wins.
	return a.checkpoints.ReadCheckpoint(cp.CheckpointID)
}

// CheckpointList lists a session's checkpoints, newest first.
func (a *API) CheckpointList(sessionRef string) (result []*models.Checkpoint, err error) {
	defer recoverTo(&err, "checkpoint.list")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}
	cps, cerr := a.checkpointRows.ListBySession(session.SessionID)
	if cerr != nil {
		return nil, databaseError("list checkpoints", cerr)
	}
	return cps, nil
}

// CheckpointDiff is the per-vector signed difference between two
// checkpoints' vector payloads (B minus A).
type CheckpointDiff struct {
	FromCheckpoint string             `json:"from_checkpoint"`
	ToCheckpoint   string             `json:"to_checkpoint"`
	Delta          map[string]float64 `json:"delta"`
}

// CheckpointDiffByID diffs two checkpoints.
func (a *API) CheckpointDiffByID(fromID, toID string) (result *CheckpointDiff, err error) {
	defer recoverTo(&err, "checkpoint.diff")

	from, ferr := a.checkpoints.ReadCheckpoint(fromID)
	if ferr != nil {
		return nil, databaseError("load checkpoint", ferr)
	}
	to, terr := a.checkpoints.ReadCheckpoint(toID)
	if terr != nil {
		return nil, databaseError("load checkpoint", terr)
	}
	if from == nil || to == nil {
		return nil, newError(ErrInsufficientData, "both checkpoints must exist to diff them")
	}

	fromVec, verr := vectorsFromCanonical(from.VectorsJSON)
	if verr != nil {
		return nil, newError(ErrInsufficientData, "from-checkpoint payload is unreadable: "+verr.Error())
	}
	toVec, verr := vectorsFromCanonical(to.VectorsJSON)
	if verr != nil {
		return nil, newError(ErrInsufficientData, "to-checkpoint payload is unreadable: "+verr.Error())
	}

	return &CheckpointDiff{
		FromCheckpoint: fromID,
		ToCheckpoint:   toID,
		Delta:          toVec.Delta(fromVec).ToMap(),
	}, nil
}

// canonicalEnvelope is the shape signing.Canonicalize wraps payloads in.
type canonicalEnvelope struct {
	Canon   string                   `json:"canon"`
	Payload *models.EpistemicVectors `json:"payload"`
}

// vectorsFromCanonical unwraps a checkpoint's canonical JSON back into the
// vector struct.
func vectorsFromCanonical(canonical string) (*models.EpistemicVectors, error) {
	var env canonicalEnvelope
	if err := json.Unmarshal([]byte(canonical), &env); err != nil {
		return nil, err
	}
	if env.Payload == nil {
		return nil, fmt.Errorf("canonical payload missing")
	}
	return env.Payload, nil
}
