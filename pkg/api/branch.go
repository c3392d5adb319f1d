package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nubaeon/empirica/internal/engine"
	"github.com/Nubaeon/empirica/internal/models"
)

// BranchCreateRequest is the input to branch.create: one parallel
// investigation path within a session, snapshotting the preflight vectors
// it starts from.
type BranchCreateRequest struct {
	SessionRef        string `json:"session_id"`
	BranchName        string `json:"branch_name"`
	InvestigationPath string `json:"investigation_path"`
	GitBranchName     string `json:"git_branch_name,omitempty"`
}

// BranchCreate opens an investigation branch seeded from the session's
// current PREFLIGHT assessment.
func (a *API) BranchCreate(req BranchCreateRequest) (result *models.InvestigationBranch, err error) {
	defer recoverTo(&err, "branch.create")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.BranchName) == "" || strings.TrimSpace(req.InvestigationPath) == "" {
		return nil, newError(ErrInvalidInput, "branch_name and investigation_path are required")
	}

	preflight, perr := a.reflexes.GetLatestByPhase(session.SessionID, string(models.PhasePreflight))
	if perr != nil {
		return nil, databaseError("load preflight", perr)
	}
	if preflight == nil {
		return nil, newError(ErrIllegalTransition, "branches fork from a PREFLIGHT; none exists yet").
			withRecovery(engine.OpSubmitPreflight)
	}

	gitBranch := req.GitBranchName
	if gitBranch == "" {
		gitBranch = "investigate/" + req.BranchName
	}

	branch := models.NewInvestigationBranch(session.SessionID, req.BranchName, req.InvestigationPath, gitBranch)
	vecJSON, _ := preflight.ToVectors().ToJSON()
	branch.PreflightVectors = vecJSON
	if err := a.branches.Create(branch); err != nil {
		return nil, databaseError("create branch", err)
	}
	return branch, nil
}

// BranchCheckpointRequest is the input to branch.checkpoint: the branch's
// post-investigation assessment plus its spend.
type BranchCheckpointRequest struct {
	BranchID         string          `json:"branch_id"`
	Assessment       json.RawMessage `json:"assessment"`
	TokensSpent      int             `json:"tokens_spent,omitempty"`
	TimeSpentMinutes int             `json:"time_spent_minutes,omitempty"`
}

// BranchCheckpoint records a branch's post-investigation state.
func (a *API) BranchCheckpoint(req BranchCheckpointRequest) (result *models.InvestigationBranch, err error) {
	defer recoverTo(&err, "branch.checkpoint")

	branch, berr := a.branches.Get(req.BranchID)
	if berr != nil {
		return nil, databaseError("load branch", berr)
	}
	if branch == nil {
		return nil, newError(ErrInvalidInput, fmt.Sprintf("no branch %s", req.BranchID))
	}

	var vectors models.EpistemicVectors
	if uerr := json.Unmarshal(req.Assessment, &vectors); uerr != nil {
		return nil, newError(ErrInvalidInput, "assessment is not a vector map: "+uerr.Error())
	}
	if !vectors.InRange() {
		return nil, newError(ErrInvalidInput, "assessment vectors out of range [0,1]")
	}

	vecJSON, _ := vectors.ToJSON()
	if err := a.branches.Checkpoint(req.BranchID, vecJSON, req.TokensSpent, req.TimeSpentMinutes); err != nil {
		return nil, databaseError("checkpoint branch", err)
	}
	return a.branches.Get(req.BranchID)
}

// BranchMergeRequest is the input to branch.merge.
type BranchMergeRequest struct {
	SessionRef  string `json:"session_id"`
	Round       int    `json:"round,omitempty"`
	TokenBudget int    `json:"token_budget,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

// BranchMergeResult is the success response for branch.merge.
type BranchMergeResult struct {
	Winner *models.InvestigationBranch `json:"winner"`
	Score  float64                     `json:"score"`
	Scored map[string]float64          `json:"scored"`
}

// BranchMerge scores every checkpointed branch in the session by the merge
// formula and auto-merges the winner. The quality term comes from
// engine.DefaultQuality (evidence-supplied quality, else 1 - uncertainty).
func (a *API) BranchMerge(req BranchMergeRequest) (result *BranchMergeResult, err error) {
	defer recoverTo(&err, "branch.merge")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	all, berr := a.branches.ListBySession(session.SessionID)
	if berr != nil {
		return nil, databaseError("list branches", berr)
	}
	var candidates []*models.InvestigationBranch
	for _, b := range all {
		if b.Status == "active" && b.PostflightVectors != nil {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, newError(ErrInsufficientData, "no checkpointed branches to merge").
			withRecovery("branch.checkpoint")
	}

	strategy := engine.DefaultQuality{}
	scores := make([]float64, len(candidates))
	scored := make(map[string]float64, len(candidates))
	for i, b := range candidates {
		pre, perr := models.FromJSON(b.PreflightVectors)
		if perr != nil {
			continue
		}
		post, perr := models.FromJSON(*b.PostflightVectors)
		if perr != nil {
			continue
		}
		learningDelta := post.Know - pre.Know
		scores[i] = engine.MergeScore(learningDelta, strategy, b, post, req.TokenBudget)
		scored[b.BranchName] = scores[i]
	}

	winnerIdx, winnerScore := engine.PickWinner(candidates, scores)
	winner := candidates[winnerIdx]
	if err := a.branches.MarkWinner(winner.ID, winnerScore); err != nil {
		return nil, databaseError("mark winner", err)
	}

	rationale := req.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("auto-merged %s: highest merge score %.4f of %d branches", winner.BranchName, winnerScore, len(candidates))
	}
	others, _ := json.Marshal(scored)
	othersStr := string(others)
	decision := &models.MergeDecision{
		ID:                 uuid.New().String(),
		SessionID:          session.SessionID,
		InvestigationRound: req.Round,
		WinningBranchID:    winner.ID,
		WinningBranchName:  &winner.BranchName,
		WinningScore:       winnerScore,
		OtherBranches:      &othersStr,
		DecisionRationale:  rationale,
		AutoMerged:         true,
		CreatedTimestamp:   float64(time.Now().UnixMilli()) / 1000.0,
	}
	if err := a.branches.RecordMergeDecision(decision); err != nil {
		return nil, databaseError("record merge decision", err)
	}

	updated, _ := a.branches.Get(winner.ID)
	if updated != nil {
		winner = updated
	}
	return &BranchMergeResult{Winner: winner, Score: winnerScore, Scored: scored}, nil
}
