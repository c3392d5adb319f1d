package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nubaeon/empirica/internal/models"
)

func TestCostPenalty(t *testing.T) {
	assert.Equal(t, 1.0, CostPenalty(0, 1000), "zero spend is never divided down")
	assert.Equal(t, 1.0, CostPenalty(500, 0), "no budget means no penalty")
	assert.Equal(t, 1.0, CostPenalty(800, 1000), "under-budget spend is not penalised")
	assert.Equal(t, 2.0, CostPenalty(2000, 1000))
}

func TestMergeScore(t *testing.T) {
	branch := &models.InvestigationBranch{TokensSpent: 0}
	post := &models.EpistemicVectors{Uncertainty: 0.2}

	// (0.3 * (1-0.2) * (1-0.2)) / 1
	score := MergeScore(0.3, nil, branch, post, 0)
	assert.InDelta(t, 0.3*0.8*0.8, score, 1e-12)
}

func TestMergeScoreUsesSuppliedQuality(t *testing.T) {
	quality := 0.5
	branch := &models.InvestigationBranch{EpistemicQuality: &quality}
	post := &models.EpistemicVectors{Uncertainty: 0.1}

	score := MergeScore(0.4, DefaultQuality{}, branch, post, 0)
	assert.InDelta(t, 0.4*0.5*0.9, score, 1e-12,
		"evidence-supplied quality outranks the uncertainty fallback")
}

func TestPickWinner(t *testing.T) {
	branches := []*models.InvestigationBranch{
		{BranchName: "a", TokensSpent: 100},
		{BranchName: "b", TokensSpent: 200},
		{BranchName: "c", TokensSpent: 50},
	}

	idx, score := PickWinner(branches, []float64{0.1, 0.5, 0.3})
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0.5, score)

	// Ties favour the cheaper branch.
	idx, _ = PickWinner(branches, []float64{0.4, 0.4, 0.4})
	assert.Equal(t, 2, idx)

	idx, _ = PickWinner(nil, nil)
	assert.Equal(t, -1, idx)
}
