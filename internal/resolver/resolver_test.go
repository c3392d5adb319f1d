package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T, instanceID string) {
	t.Helper()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("EMPIRICA_INSTANCE_ID", instanceID)
	t.Setenv("TMUX_PANE", "")
	t.Setenv("TERM_SESSION_ID", "")
	t.Setenv("WINDOWID", "")
}

func TestInstanceIDPriority(t *testing.T) {
	testEnv(t, "explicit-1")
	assert.Equal(t, "explicit-1", InstanceID(), "the explicit override wins")

	t.Setenv("EMPIRICA_INSTANCE_ID", "")
	t.Setenv("TMUX_PANE", "%7")
	assert.Equal(t, "tmux:%7", InstanceID())

	t.Setenv("TMUX_PANE", "")
	t.Setenv("TERM_SESSION_ID", "w0t1p0")
	assert.Equal(t, "term:w0t1p0", InstanceID())

	t.Setenv("TERM_SESSION_ID", "")
	t.Setenv("WINDOWID", "12345")
	assert.Equal(t, "window:12345", InstanceID())

	t.Setenv("WINDOWID", "")
	assert.Empty(t, InstanceID(), "no source yields a null instance id")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	testEnv(t, "pane-A")

	r, err := New()
	require.NoError(t, err)

	ctx := ActiveContext{SessionID: "sess-1", CascadeID: "casc-1", UpdatedAt: time.Now().Round(time.Second)}
	require.NoError(t, r.Save(ctx))

	loaded, err := r.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, "casc-1", loaded.CascadeID)
}

func TestLoadNothing(t *testing.T) {
	testEnv(t, "pane-B")

	r, err := New()
	require.NoError(t, err)
	loaded, err := r.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestInstancesAreIsolated(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateDir)
	t.Setenv("TMUX_PANE", "")
	t.Setenv("TERM_SESSION_ID", "")
	t.Setenv("WINDOWID", "")

	t.Setenv("EMPIRICA_INSTANCE_ID", "pane-1")
	r1, err := New()
	require.NoError(t, err)
	require.NoError(t, r1.Save(ActiveContext{SessionID: "one", UpdatedAt: time.Now()}))

	t.Setenv("EMPIRICA_INSTANCE_ID", "pane-2")
	r2, err := New()
	require.NoError(t, err)
	require.NoError(t, r2.Save(ActiveContext{SessionID: "two", UpdatedAt: time.Now()}))

	loaded2, err := r2.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded2)
	assert.Equal(t, "two", loaded2.SessionID)

	t.Setenv("EMPIRICA_INSTANCE_ID", "pane-1")
	loaded1, err := r1.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded1)
	assert.Equal(t, "one", loaded1.SessionID, "concurrent panes never cross-contaminate")
}

func TestInstanceFileIsAuthoritative(t *testing.T) {
	testEnv(t, "pane-C")

	r, err := New()
	require.NoError(t, err)
	require.NoError(t, r.Save(ActiveContext{SessionID: "authoritative", UpdatedAt: time.Now()}))

	// Corrupt the situation: hand-write a disagreeing TTY-keyed file. If
	// this process has no TTY key, the disagreement path is vacuous and
	// the instance value still wins.
	instPath, ttyPath := indexPaths(r.stateDir)
	require.NotEmpty(t, instPath)
	if ttyPath != "" {
		stale := ActiveContext{SessionID: "stale-tty", UpdatedAt: time.Now().Add(-time.Hour)}
		require.NoError(t, writeContextAtomic(ttyPath, &stale))
	}

	loaded, err := r.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "authoritative", loaded.SessionID)

	if ttyPath != "" {
		corrected, err := readContext(ttyPath)
		require.NoError(t, err)
		assert.Equal(t, "authoritative", corrected.SessionID,
			"the TTY file is corrected to match the instance file")
	}
}

func TestStaleness(t *testing.T) {
	ctx := ActiveContext{UpdatedAt: time.Now().Add(-5 * time.Hour)}
	assert.True(t, ctx.IsStale(0, time.Now()), "older than the default 4h horizon")
	assert.False(t, ctx.IsStale(6*time.Hour, time.Now()))

	fresh := ActiveContext{UpdatedAt: time.Now()}
	assert.False(t, fresh.IsStale(0, time.Now()))
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	testEnv(t, "pane-D")

	r, err := New()
	require.NoError(t, err)
	require.NoError(t, r.Save(ActiveContext{SessionID: "x", UpdatedAt: time.Now()}))

	entries, err := os.ReadDir(r.stateDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "atomic rename leaves no temp files behind")
	}
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "tmux_%7", sanitizeKey("tmux:%7"))
	assert.NotContains(t, sanitizeKey("/dev/pts/3"), "/")
	assert.NotContains(t, sanitizeKey("a b:c"), " ")
}

func TestStateDirHonoursXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	got, err := StateDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "empirica"), got)
}
