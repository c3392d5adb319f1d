package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []SearchItem {
	return []SearchItem{
		{ID: "f1", Type: "finding", Text: "sqlite uses WAL mode for concurrent readers"},
		{ID: "f2", Type: "finding", Text: "the config loader caches results"},
		{ID: "d1", Type: "dead_end", Text: "retry with backoff", SecondaryText: "the sqlite lock is advisory, retries spin"},
		{ID: "u1", Type: "unknown", Text: "does the walrus operator parse here", Scope: "parser.go"},
	}
}

func TestFuzzySearchRanksWordMatchFirst(t *testing.T) {
	results := FuzzySearch("sqlite", sampleItems(), 0.1)
	require.NotEmpty(t, results)
	assert.Equal(t, "f1", results[0].ID, "a primary-text word match outranks a secondary-text match")

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "d1", "secondary-text matches are still found")
}

func TestFuzzySearchThreshold(t *testing.T) {
	results := FuzzySearch("sqlite", sampleItems(), 0.99)
	require.Len(t, results, 1)
	assert.Equal(t, "f1", results[0].ID)
}

func TestFuzzySearchConjunction(t *testing.T) {
	all := FuzzySearch("sqlite WAL", sampleItems(), 0.1)
	require.NotEmpty(t, all)
	assert.Equal(t, "f1", all[0].ID)

	full := FuzzySearch("sqlite WAL", sampleItems(), 0.0)
	var f1, d1 float64
	for _, r := range full {
		switch r.ID {
		case "f1":
			f1 = r.Score
		case "d1":
			d1 = r.Score
		}
	}
	assert.Greater(t, f1, d1, "an item matching every token outranks a half match")
}

func TestFuzzySearchEmptyQuery(t *testing.T) {
	assert.Nil(t, FuzzySearch("", sampleItems(), 0.1))
	assert.Nil(t, FuzzySearch("   ", sampleItems(), 0.1))
}

func TestFuzzySearchScopeMatch(t *testing.T) {
	results := FuzzySearch("parser", sampleItems(), 0.1)
	require.NotEmpty(t, results)
	found := false
	for _, r := range results {
		if r.ID == "u1" {
			found = true
		}
	}
	assert.True(t, found, "scope matches surface the item")
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("wal mode", "wal"))
	assert.False(t, containsWord("walrus mode", "wal"), "substring inside a longer word is not a word match")
	assert.True(t, containsWord("mode: wal", "wal"))
}

func TestSubsequenceMatch(t *testing.T) {
	assert.True(t, subsequenceMatch("configuration", "confg"))
	assert.False(t, subsequenceMatch("configuration", "zzz"))
	assert.True(t, subsequenceMatch("anything", ""))
}

func TestHighlights(t *testing.T) {
	results := FuzzySearch("config", sampleItems(), 0.1)
	require.NotEmpty(t, results)
	assert.NotEmpty(t, results[0].Highlights, "primary-text matches carry highlight offsets")
}
