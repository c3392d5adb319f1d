package alias

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/models"
)

type fixture struct {
	sessions *db.SessionRepository
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sessions := db.NewSessionRepository(store)
	return &fixture{sessions: sessions, resolver: New(sessions)}
}

func (f *fixture) addSession(t *testing.T, aiID string) *models.Session {
	t.Helper()
	session := models.NewSession(aiID)
	require.NoError(t, f.sessions.Create(session))
	// created_at ordering must be strict for the "latest" aliases.
	time.Sleep(5 * time.Millisecond)
	return session
}

func TestResolveFullUUID(t *testing.T) {
	f := newFixture(t)
	session := f.addSession(t, "worker")

	got, err := f.resolver.Resolve(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, got.SessionID)
}

func TestResolveUnambiguousPrefix(t *testing.T) {
	f := newFixture(t)
	session := f.addSession(t, "worker")

	got, err := f.resolver.Resolve(session.SessionID[:12])
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, got.SessionID)
}

func TestResolveLatestForms(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "worker")
	second := f.addSession(t, "worker")

	for _, ref := range []string{"latest", "last", "auto"} {
		got, err := f.resolver.Resolve(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, second.SessionID, got.SessionID, ref)
	}

	got, err := f.resolver.Resolve("latest:worker")
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, got.SessionID)
}

func TestResolveActiveLifecycle(t *testing.T) {
	// Two sessions for "worker", end the first, leave the
	// second open; end the second and latest:active:worker stops resolving.
	f := newFixture(t)
	first := f.addSession(t, "worker")
	second := f.addSession(t, "worker")
	require.NoError(t, f.sessions.End(first.SessionID))

	got, err := f.resolver.Resolve("latest:active:worker")
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, got.SessionID)

	got, err = f.resolver.Resolve("latest:worker")
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, got.SessionID)

	require.NoError(t, f.sessions.End(second.SessionID))
	_, err = f.resolver.Resolve("latest:active:worker")
	require.Error(t, err)
	resErr, ok := err.(*ResolutionError)
	require.True(t, ok)
	assert.NotEmpty(t, resErr.Reason)
}

func TestResolveStableAcrossEqualCalls(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "worker")
	open := f.addSession(t, "worker")

	a, err := f.resolver.Resolve("latest:active:worker")
	require.NoError(t, err)
	b, err := f.resolver.Resolve("latest:active:worker")
	require.NoError(t, err)
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, open.SessionID, a.SessionID)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "worker")
	f.addSession(t, "worker")

	// The empty prefix matches every session, which guarantees ambiguity
	// without depending on two random UUIDs sharing leading characters.
	matches, err := f.sessions.FindByIDPrefix("")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	_, rerr := f.resolver.Resolve("")
	require.Error(t, rerr)
	resErr, ok := rerr.(*ResolutionError)
	require.True(t, ok)
	assert.Equal(t, "prefix is ambiguous", resErr.Reason)
	assert.Len(t, resErr.Suggestions, 2)
}

func TestResolveNotFoundSuggestions(t *testing.T) {
	f := newFixture(t)
	session := f.addSession(t, "worker")

	mangled := "zzzzzzzz" + session.SessionID[8:]
	_, err := f.resolver.Resolve(mangled)
	require.Error(t, err)
	resErr, ok := err.(*ResolutionError)
	require.True(t, ok)
	require.NotEmpty(t, resErr.Suggestions)
	assert.Equal(t, session.SessionID, resErr.Suggestions[0],
		"the nearest known session id leads the suggestions")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 2, levenshtein("kitten", "sitten"[0:5]+"g"))
}
