// Package alias resolves the session-reference forms a CLI caller may pass
// instead of a full session_id: "latest", "last", "auto",
// "latest:active", "latest:<ai_id>", "latest:active:<ai_id>", a full UUID,
// or an unambiguous UUID prefix. Each form costs exactly one SQL
// query against the session repository.
package alias

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/models"
)

// ErrorType mirrors the pkg/api error taxonomy's session_not_found case.
const ErrorType = "session_not_found"

// ResolutionError reports an alias that could not be resolved to exactly
// one session, with near-match suggestions over known session_ids.
type ResolutionError struct {
	Alias       string
	Reason      string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("session_not_found: %s (%s)", e.Alias, e.Reason)
	}
	return fmt.Sprintf("session_not_found: %s (%s); did you mean one of %v?", e.Alias, e.Reason, e.Suggestions)
}

// Resolver resolves alias strings against the session repository.
type Resolver struct {
	sessions *db.SessionRepository
}

// New constructs an alias Resolver.
func New(sessions *db.SessionRepository) *Resolver {
	return &Resolver{sessions: sessions}
}

const uuidLength = 36

// isFullUUID reports whether s looks like a complete UUID (length and dash
// positions only — the repository lookup is the real existence check).
func isFullUUID(s string) bool {
	if len(s) != uuidLength {
		return false
	}
	return s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}

// Resolve looks up ref against the known aliases, falling back to treating
// ref as a literal session_id (full UUID) or an unambiguous prefix.
func (r *Resolver) Resolve(ref string) (*models.Session, error) {
	switch {
	case ref == "latest" || ref == "last" || ref == "auto":
		session, err := r.sessions.GetLatestOverall()
		return r.resolveOr(ref, session, err)

	case ref == "latest:active":
		session, err := r.sessions.GetLatestActive()
		return r.resolveOr(ref, session, err)

	case strings.HasPrefix(ref, "latest:active:"):
		aiID := strings.TrimPrefix(ref, "latest:active:")
		session, err := r.sessions.GetLatestActiveByAI(aiID)
		return r.resolveOr(ref, session, err)

	case strings.HasPrefix(ref, "latest:"):
		aiID := strings.TrimPrefix(ref, "latest:")
		session, err := r.sessions.GetLatest(aiID)
		return r.resolveOr(ref, session, err)

	case isFullUUID(ref):
		session, err := r.sessions.Get(ref)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, r.notFound(ref, "no session with that id")
		}
		return session, nil

	default:
		return r.resolvePrefix(ref)
	}
}

// resolveOr wraps a (session, error) tuple from a zero-or-one lookup into
// the alias package's not-found convention.
func (r *Resolver) resolveOr(ref string, session *models.Session, err error) (*models.Session, error) {
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, r.notFound(ref, "no matching session")
	}
	return session, nil
}

// resolvePrefix treats ref as a UUID prefix; more than one match is
// ambiguous and reported as not-found with the matches as suggestions.
func (r *Resolver) resolvePrefix(ref string) (*models.Session, error) {
	matches, err := r.sessions.FindByIDPrefix(ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, r.notFound(ref, "no session matches that prefix")
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.SessionID
		}
		return nil, &ResolutionError{Alias: ref, Reason: "prefix is ambiguous", Suggestions: ids}
	}
}

// notFound builds a ResolutionError enriched with near-match suggestions.
func (r *Resolver) notFound(ref, reason string) *ResolutionError {
	all, err := r.sessions.AllIDs()
	if err != nil || len(all) == 0 {
		return &ResolutionError{Alias: ref, Reason: reason}
	}
	return &ResolutionError{Alias: ref, Reason: reason, Suggestions: nearestMatches(ref, all, 3)}
}

// nearestMatches returns the n session_ids with the smallest Levenshtein
// distance to ref.
func nearestMatches(ref string, candidates []string, n int) []string {
	type scored struct {
		id   string
		dist int
	}
	scoredList := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredList[i] = scored{id: c, dist: levenshtein(ref, c)}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if n > len(scoredList) {
		n = len(scoredList)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scoredList[i].id
	}
	return out
}

// levenshtein computes the classic edit distance between a and b.
func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
