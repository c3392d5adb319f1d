package engine

import "github.com/Nubaeon/empirica/internal/models"

// BranchQualityStrategy scores the epistemic "quality" of an investigation
// branch's result. The exact quality computation is deliberately left
// pluggable; DefaultQuality is the one shipped implementation and callers
// may bring their own.
type BranchQualityStrategy interface {
	Quality(branch *models.InvestigationBranch, postflight *models.EpistemicVectors) float64
}

// DefaultQuality folds a caller-supplied evidence-based quality score when
// present (via branch.EpistemicQuality, set by an upstream evidence source)
// and otherwise falls back to 1 - uncertainty, the quantity the merge
// formula already multiplies by.
type DefaultQuality struct{}

func (DefaultQuality) Quality(branch *models.InvestigationBranch, postflight *models.EpistemicVectors) float64 {
	if branch.EpistemicQuality != nil {
		return *branch.EpistemicQuality
	}
	if postflight != nil {
		return 1 - postflight.Uncertainty
	}
	return 1.0
}

// CostPenalty translates token/time spend into the merge formula's divisor.
// A branch that spent nothing is never divided down; spend is normalised
// against a caller-supplied budget so branches of different scales compare
// fairly.
func CostPenalty(tokensSpent, tokenBudget int) float64 {
	if tokenBudget <= 0 || tokensSpent <= 0 {
		return 1.0
	}
	ratio := float64(tokensSpent) / float64(tokenBudget)
	if ratio < 1 {
		ratio = 1
	}
	return ratio
}

// MergeScore computes the investigation-branch scoring formula:
// (learning_delta * quality * (1 - uncertainty)) / cost_penalty.
// learningDelta is typically the Know delta (or another caller-chosen
// learning vector) between the branch's preflight and postflight snapshots.
func MergeScore(learningDelta float64, strategy BranchQualityStrategy, branch *models.InvestigationBranch, postflight *models.EpistemicVectors, tokenBudget int) float64 {
	if strategy == nil {
		strategy = DefaultQuality{}
	}
	quality := strategy.Quality(branch, postflight)
	uncertainty := 0.5
	if postflight != nil {
		uncertainty = postflight.Uncertainty
	}
	penalty := CostPenalty(branch.TokensSpent, tokenBudget)
	return (learningDelta * quality * (1 - uncertainty)) / penalty
}

// PickWinner selects the highest-scoring branch among candidates, returning
// its index and score. Ties favour the branch with lower token spend, a
// simple deterministic tie-break.
func PickWinner(branches []*models.InvestigationBranch, scores []float64) (winnerIdx int, winnerScore float64) {
	if len(branches) == 0 {
		return -1, 0
	}
	winnerIdx = 0
	winnerScore = scores[0]
	for i := 1; i < len(branches); i++ {
		if scores[i] > winnerScore || (scores[i] == winnerScore && branches[i].TokensSpent < branches[winnerIdx].TokensSpent) {
			winnerIdx = i
			winnerScore = scores[i]
		}
	}
	return winnerIdx, winnerScore
}
