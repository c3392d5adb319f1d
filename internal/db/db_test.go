package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nubaeon/empirica/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A second open re-runs the migration pass against the recorded
	// schema_migrations table and must be a no-op.
	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.Get(&count, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, len(migrations), count)
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestDB(t)
	repo := NewSessionRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, repo.Create(session))

	got, err := repo.Get(session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsActive())

	require.NoError(t, repo.End(session.SessionID))
	got, err = repo.Get(session.SessionID)
	require.NoError(t, err)
	assert.False(t, got.IsActive())
	assert.True(t, !got.EndTime.Before(got.StartTime), "end_time >= start_time")
}

func TestReflexVectorRoundTripBitForBit(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	reflexes := NewReflexRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	vectors := models.NewDefaultVectors()
	vectors.Know = 0.1 + 0.2 // 0.30000000000000004, not representable as 0.3
	vectors.Uncertainty = 1.0 / 3.0

	reflex := models.NewReflex(session.SessionID, "PREFLIGHT", vectors, 1, "txn-1")
	require.NoError(t, reflexes.Create(reflex))
	require.NotZero(t, reflex.ID)

	stored, err := reflexes.GetLatestByPhase(session.SessionID, "PREFLIGHT")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, vectors.Know, *stored.Know, "float64 vectors round-trip bit-for-bit")
	assert.Equal(t, vectors.Uncertainty, *stored.Uncertainty)
}

func TestReflexUniquenessConstraint(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	reflexes := NewReflexRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	vectors := models.NewDefaultVectors()
	first := models.NewReflex(session.SessionID, "CHECK", vectors, 1, "txn-1")
	require.NoError(t, reflexes.Create(first))

	dup := models.NewReflex(session.SessionID, "CHECK", vectors, 1, "txn-1")
	require.Error(t, reflexes.Create(dup), "(transaction, phase, round) must be unique")

	next := models.NewReflex(session.SessionID, "CHECK", vectors, 2, "txn-1")
	assert.NoError(t, reflexes.Create(next))
}

func TestOpenTransaction(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	reflexes := NewReflexRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	open, err := reflexes.OpenTransaction(session.SessionID)
	require.NoError(t, err)
	assert.Empty(t, open)

	vectors := models.NewDefaultVectors()
	require.NoError(t, reflexes.Create(models.NewReflex(session.SessionID, "PREFLIGHT", vectors, 1, "txn-1")))

	open, err = reflexes.OpenTransaction(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", open)

	require.NoError(t, reflexes.Create(models.NewReflex(session.SessionID, "POSTFLIGHT", vectors, 1, "txn-1")))
	open, err = reflexes.OpenTransaction(session.SessionID)
	require.NoError(t, err)
	assert.Empty(t, open, "a POSTFLIGHT closes the transaction")
}

func TestListStaleOpenTransactions(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	reflexes := NewReflexRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	vectors := models.NewDefaultVectors()
	old := models.NewReflex(session.SessionID, "PREFLIGHT", vectors, 1, "txn-old")
	old.Timestamp = float64(time.Now().Add(-100*time.Hour).UnixMilli()) / 1000.0
	require.NoError(t, reflexes.Create(old))

	fresh := models.NewReflex(session.SessionID, "PREFLIGHT", vectors, 1, "txn-fresh")
	require.NoError(t, reflexes.Create(fresh))

	cutoff := float64(time.Now().Add(-72*time.Hour).UnixMilli()) / 1000.0
	stale, err := reflexes.ListStaleOpenTransactions(cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "txn-old", stale[0].TransactionID)
}

func TestGetDelta(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	reflexes := NewReflexRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	pre := models.NewDefaultVectors()
	pre.Know = 0.6
	require.NoError(t, reflexes.Create(models.NewReflex(session.SessionID, "PREFLIGHT", pre, 1, "txn-1")))

	post := models.NewDefaultVectors()
	post.Know = 0.9
	postReflex := models.NewReflex(session.SessionID, "POSTFLIGHT", post, 1, "txn-1")
	postReflex.Timestamp = postReflex.Timestamp + 1
	require.NoError(t, reflexes.Create(postReflex))

	delta, err := reflexes.GetDelta(session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.InDelta(t, 0.3, delta.Know, 1e-12)
}

func TestCascadePhaseUpdates(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	cascades := NewCascadeRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	cascade := models.NewCascade(session.SessionID, "wire the parser")
	require.NoError(t, cascades.Create(cascade))

	require.NoError(t, cascades.UpdatePhase(cascade.CascadeID, models.PhasePreflight, true))
	require.NoError(t, cascades.Complete(cascade.CascadeID, "completed", 0.82))

	got, err := cascades.Get(cascade.CascadeID)
	require.NoError(t, err)
	assert.True(t, got.PreflightCompleted)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.FinalConfidence)
	assert.InDelta(t, 0.82, *got.FinalConfidence, 1e-12)

	assert.Error(t, cascades.UpdatePhase(cascade.CascadeID, "NONSENSE", true))
}

func TestAvgFinalConfidence(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	cascades := NewCascadeRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	avg, err := cascades.AvgFinalConfidence(session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, avg, "no completed cascades yields no average")

	for _, c := range []float64{0.6, 0.8} {
		cascade := models.NewCascade(session.SessionID, "task")
		require.NoError(t, cascades.Create(cascade))
		require.NoError(t, cascades.Complete(cascade.CascadeID, "completed", c))
	}
	avg, err = cascades.AvgFinalConfidence(session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 0.7, *avg, 1e-12)
}

func TestGoalSubtaskFlow(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	goals := NewGoalRepository(store)
	subtasks := NewSubtaskRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))

	goal := models.NewGoal(session.SessionID, "refactor the codec", models.ScopeVector{Breadth: 0.4, Duration: 0.3})
	require.NoError(t, goals.Create(goal))

	st := models.NewSubTask(goal.ID, "map the call sites", models.ImportanceCritical)
	require.NoError(t, subtasks.Create(st))
	require.NoError(t, subtasks.Complete(st.ID, "call sites listed in findings"))

	got, err := subtasks.Get(st.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedTimestamp)

	require.NoError(t, goals.Complete(goal.ID, "done"))
	gotGoal, err := goals.Get(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusComplete, gotGoal.Status)
	require.NotNil(t, gotGoal.CompletedTimestamp)
	assert.GreaterOrEqual(t, *gotGoal.CompletedTimestamp, gotGoal.CreatedTimestamp)
}

func TestUnknownResolutionImmutable(t *testing.T) {
	store := openTestDB(t)
	sessions := NewSessionRepository(store)
	projects := NewProjectRepository(store)
	crumbs := NewBreadcrumbRepository(store)

	session := models.NewSession("agent-A")
	require.NoError(t, sessions.Create(session))
	project := models.NewProject("p", nil)
	require.NoError(t, projects.Create(project))

	unknown := models.NewUnknown(project.ID, session.SessionID, "is the cache coherent?", 0.5)
	require.NoError(t, crumbs.CreateUnknown(unknown))

	require.NoError(t, crumbs.ResolveUnknown(unknown.ID, "agent-B"))
	got, err := crumbs.GetUnknown(unknown.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "agent-B", *got.ResolvedBy)

	require.Error(t, crumbs.ResolveUnknown(unknown.ID, "agent-C"),
		"a resolved unknown is immutable")
}

func TestCalibrationTrajectoryAppendOnly(t *testing.T) {
	store := openTestDB(t)
	repo := NewCalibrationRepository(store)

	latest, err := repo.LatestTrajectory("agent-A", "know", "noetic")
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i, gap := range []float64{0.2, 0.1} {
		require.NoError(t, repo.AppendTrajectory(&TrajectoryPoint{
			AIID: "agent-A", Vector: "know", SessionID: "s1", PhaseTrack: "noetic",
			Gap: gap, Mean: gap, Variance: 0, SampleCount: int64(i + 1), UpdatedAt: time.Now(),
		}))
	}

	latest, err = repo.LatestTrajectory("agent-A", "know", "noetic")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.SampleCount)

	history, err := repo.ListTrajectory("agent-A", "know", "noetic", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
