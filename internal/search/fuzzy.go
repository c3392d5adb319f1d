// Package search ranks breadcrumb records (findings, unknowns, dead ends)
// against a free-text query. Matching is token-based with graded scores:
// whole-word hits outrank substring hits, which outrank in-order
// subsequence ("fuzzy") hits, and the primary text field outweighs the
// secondary and scope fields.
package search

import (
	"sort"
	"strings"
	"unicode"
)

// SearchItem is one candidate record to rank.
type SearchItem struct {
	ID            string
	Type          string // "finding", "unknown", "dead_end"
	Text          string // primary text (finding / unknown / approach)
	SecondaryText string // e.g. why_failed for dead ends
	Scope         string
}

// SearchResult is a candidate that met the score threshold.
type SearchResult struct {
	ID            string
	Type          string
	Text          string
	SecondaryText string
	Scope         string
	Score         float64
	Highlights    []int // byte offsets of matched characters in Text
}

// Per-field match grades. The primary field dominates; secondary and scope
// only lift an otherwise-weak match, they never outrank a primary hit.
const (
	gradeWord      = 1.0
	gradeSubstring = 0.7
	gradeFuzzy     = 0.4

	gradeSecondaryWord      = 0.6
	gradeSecondarySubstring = 0.4
	gradeSecondaryFuzzy     = 0.2

	gradeScopeSubstring = 0.3
)

// FuzzySearch ranks items against query and returns those scoring at or
// above threshold, best first.
func FuzzySearch(query string, items []SearchItem, threshold float64) []SearchResult {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	var results []SearchResult
	for _, item := range items {
		score, highlights := rank(tokens, item)
		if score < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:            item.ID,
			Type:          item.Type,
			Text:          item.Text,
			SecondaryText: item.SecondaryText,
			Scope:         item.Scope,
			Score:         score,
			Highlights:    highlights,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// tokenize lowercases s and splits it into alphanumeric runs.
func tokenize(s string) []string {
	var tokens []string
	var run strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			run.WriteRune(r)
			continue
		}
		if run.Len() > 0 {
			tokens = append(tokens, run.String())
			run.Reset()
		}
	}
	if run.Len() > 0 {
		tokens = append(tokens, run.String())
	}
	return tokens
}

// rank scores an item against all query tokens: the mean of per-token
// grades, multiplied by half the matched fraction of tokens when not every
// token matched (a query is treated as a conjunction, so a half-matched
// query should rank well below a fully matched one).
func rank(tokens []string, item SearchItem) (float64, []int) {
	text := strings.ToLower(item.Text)
	secondary := strings.ToLower(item.SecondaryText)
	scope := strings.ToLower(item.Scope)

	var sum float64
	var highlights []int
	matched := 0

	for _, token := range tokens {
		grade, hl := gradeToken(token, text, secondary, scope)
		if grade > 0 {
			matched++
			sum += grade
			highlights = append(highlights, hl...)
		}
	}

	score := sum / float64(len(tokens))
	if matched < len(tokens) {
		score *= float64(matched) / float64(len(tokens)) * 0.5
	}
	return score, highlights
}

// gradeToken grades one token against the three lowercased fields and
// returns the best grade plus primary-text highlight offsets.
func gradeToken(token, text, secondary, scope string) (float64, []int) {
	var grade float64
	var highlights []int

	switch {
	case containsWord(text, token):
		grade = gradeWord
		highlights = highlightRange(text, token)
	case strings.Contains(text, token):
		grade = gradeSubstring
		highlights = highlightRange(text, token)
	case subsequenceMatch(text, token):
		grade = gradeFuzzy
	}

	if secondary != "" {
		switch {
		case containsWord(secondary, token):
			grade = max(grade, gradeSecondaryWord)
		case strings.Contains(secondary, token):
			grade = max(grade, gradeSecondarySubstring)
		case subsequenceMatch(secondary, token):
			grade = max(grade, gradeSecondaryFuzzy)
		}
	}

	if scope != "" && strings.Contains(scope, token) {
		grade = max(grade, gradeScopeSubstring)
	}

	return grade, highlights
}

// highlightRange returns the byte offsets of token's first occurrence in
// text, for UI highlighting.
func highlightRange(text, token string) []int {
	idx := strings.Index(text, token)
	if idx < 0 {
		return nil
	}
	out := make([]int, 0, len(token))
	for i := idx; i < idx+len(token); i++ {
		out = append(out, i)
	}
	return out
}

// containsWord reports whether text contains token bounded by
// non-alphanumerics on both sides.
func containsWord(text, token string) bool {
	idx := strings.Index(text, token)
	if idx < 0 {
		return false
	}
	if idx > 0 && isWordByte(text[idx-1]) {
		return false
	}
	end := idx + len(token)
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	r := rune(b)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// subsequenceMatch reports whether token's characters appear in text in
// order with bounded gaps, tolerating typos and abbreviations. The gap
// budget scales with token length so short tokens stay strict.
func subsequenceMatch(text, token string) bool {
	if token == "" {
		return true
	}
	ti := 0
	gaps := 0
	maxGaps := len(token)
	for i := 0; i < len(text) && ti < len(token); i++ {
		if text[i] == token[ti] {
			ti++
			gaps = 0
		} else if ti > 0 {
			gaps++
			if gaps > maxGaps {
				return false
			}
		}
	}
	return ti == len(token)
}
