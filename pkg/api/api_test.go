package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nubaeon/empirica/internal/drift"
	"github.com/Nubaeon/empirica/internal/models"
)

var payloadTiers = map[string][]string{
	"engagement":    {"engagement"},
	"foundation":    {"know", "do", "context"},
	"comprehension": {"clarity", "coherence", "signal", "density"},
	"execution":     {"state", "change", "completion", "impact"},
	"uncertainty":   {"uncertainty"},
}

// assessment builds a nested-form submission: every vector defaults to 0.5
// and overrides replace individual scores.
func assessment(t *testing.T, overrides map[string]float64) json.RawMessage {
	t.Helper()
	payload := map[string]map[string]map[string]any{}
	for tier, members := range payloadTiers {
		payload[tier] = map[string]map[string]any{}
		for _, name := range members {
			score := 0.5
			if v, ok := overrides[name]; ok {
				score = v
			}
			payload[tier][name] = map[string]any{"score": score, "rationale": "test rationale"}
		}
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func openTestAPI(t *testing.T, withGit bool) *API {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("EMPIRICA_INSTANCE_ID", "test-"+t.Name())
	t.Setenv("TMUX_PANE", "")

	repoPath := t.TempDir()
	if withGit {
		repo, err := git.PlainInit(repoPath, false)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(repoPath, "README"), []byte("seed\n"), 0644))
		wt, err := repo.Worktree()
		require.NoError(t, err)
		_, err = wt.Add("README")
		require.NoError(t, err)
		_, err = wt.Commit("seed", &git.CommitOptions{
			Author: &object.Signature{Name: "seed", Email: "seed@localhost", When: time.Now()},
		})
		require.NoError(t, err)
	}

	a, err := Open(Config{
		DBPath:   filepath.Join(t.TempDir(), "sessions.db"),
		RepoPath: repoPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func createSession(t *testing.T, a *API, aiID string) string {
	t.Helper()
	out, err := a.SessionCreate(SessionCreateRequest{AIID: aiID, BootstrapLevel: 1})
	require.NoError(t, err)
	return out.SessionID
}

func TestHappyPathCascade(t *testing.T) {
	a := openTestAPI(t, true)
	sessionID := createSession(t, a, "agent-A")

	pre, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{
			"engagement": 0.8, "know": 0.6, "do": 0.7, "context": 0.75,
			"clarity": 0.7, "coherence": 0.8, "signal": 0.7, "density": 0.4,
			"state": 0.6, "change": 0.2, "completion": 0.0, "impact": 0.5,
			"uncertainty": 0.4,
		}),
		Task: "wire the codec",
	})
	require.NoError(t, err)
	assert.True(t, pre.Gate.Passed)
	assert.Equal(t, "proceed", pre.RecommendedAction)
	require.NotEmpty(t, pre.TransactionID)

	check, err := a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.8, "uncertainty": 0.25}),
		Decision:   "proceed",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, check.Round)
	assert.Equal(t, drift.SeverityInsufficientData, check.Drift.Severity)
	assert.True(t, check.SafeToProceed)

	post, err := a.SubmitPostflight(PostflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"completion": 1.0, "know": 0.9, "uncertainty": 0.15}),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.30, post.LearningDelta["know"], 1e-9)
	assert.InDelta(t, -0.25, post.LearningDelta["uncertainty"], 1e-9)

	// The cascade is closed with final aggregates.
	cascade, err := a.cascades.Get(pre.CascadeID)
	require.NoError(t, err)
	assert.True(t, cascade.PreflightCompleted)
	assert.True(t, cascade.CheckCompleted)
	assert.True(t, cascade.PostflightCompleted)
	require.NotNil(t, cascade.CompletedAt)

	// Three reflexes, three mirrored checkpoints.
	reflexes, err := a.reflexes.ListByTransaction(post.TransactionID)
	require.NoError(t, err)
	assert.Len(t, reflexes, 3)

	checkpoints, err := a.CheckpointList(sessionID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)
	for _, cp := range checkpoints {
		assert.True(t, cp.SyncedToNotes, "each reflex is mirrored to the notes ref")
	}
}

func TestEngagementGateFailure(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	pre, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"engagement": 0.55, "know": 0.9, "uncertainty": 0.1}),
	})
	require.NoError(t, err, "a failed gate still records the reflex")
	assert.False(t, pre.Gate.Passed)
	assert.Equal(t, "investigate", pre.RecommendedAction,
		"gate failure recommends investigation regardless of other scores")

	reflexes, err := a.reflexes.ListByTransaction(pre.TransactionID)
	require.NoError(t, err)
	assert.Len(t, reflexes, 1)

	// CHECK is legal next; so is a PREFLIGHT in a new cascade.
	_, err = a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, nil),
		Decision:   "investigate",
	})
	assert.NoError(t, err)
}

func TestIllegalTransitionPostflightFirst(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPostflight(PostflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, nil),
	})
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrIllegalTransition, apiErr.ErrorType)
	assert.Equal(t, "NEW", apiErr.Context["current_phase"])
	assert.Contains(t, apiErr.RecoveryCommands, "reflex.submit_preflight")
}

func TestDuplicatePreflightIsIllegal(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)

	_, err = a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrIllegalTransition, apiErr.ErrorType)
}

func TestInvalidInputRejected(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 1.5}),
	})
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidInput, apiErr.ErrorType)
}

func TestSevereDriftBlocksAct(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.9, "context": 0.9}),
	})
	require.NoError(t, err)

	// Alternate wildly on know/context to accumulate severe drift.
	for i := 0; i < 4; i++ {
		val := 0.1
		if i%2 == 1 {
			val = 0.9
		}
		decision := "investigate"
		if i == 3 {
			decision = "proceed"
		}
		_, err = a.SubmitCheck(CheckRequest{
			SessionRef: sessionID,
			Assessment: assessment(t, map[string]float64{"know": val, "context": val}),
			Decision:   decision,
		})
		require.NoError(t, err)
	}

	check, err := a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.1, "context": 0.1}),
		Decision:   "proceed",
	})
	require.NoError(t, err, "the CHECK itself is recorded")
	assert.Equal(t, drift.SeveritySevere, check.Drift.Severity)
	assert.False(t, check.SafeToProceed)

	_, err = a.SubmitAct(ActRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrSevereDrift, apiErr.ErrorType)
}

func TestSignatureRoundTrip(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "auditor")

	identity, err := a.IdentityCreate(models.IdentityCreateInput{AIID: "auditor"}, false)
	require.NoError(t, err)
	require.True(t, identity.Created)

	// Idempotent re-create returns the same identity.
	again, err := a.IdentityCreate(models.IdentityCreateInput{AIID: "auditor"}, false)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, identity.Fingerprint, again.Fingerprint)

	pre, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, nil),
		Sign:       true,
	})
	require.NoError(t, err)
	assert.True(t, pre.Signed)

	checkpoints, err := a.CheckpointList(sessionID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	cpID := checkpoints[0].CheckpointID

	verified, err := a.VerifyCheckpoint(cpID)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, identity.Fingerprint, verified.Fingerprint)

	// Flip one stored bit: verification must fail closed.
	tampered := []byte(checkpoints[0].VectorsJSON)
	tampered[len(tampered)/2] ^= 0x01
	_, err = a.store.Exec(`UPDATE checkpoints SET vectors_json = ? WHERE checkpoint_id = ?`, string(tampered), cpID)
	require.NoError(t, err)

	_, err = a.VerifyCheckpoint(cpID)
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrVerificationFailed, apiErr.ErrorType)
}

func TestSigningFailsOpenWithoutIdentity(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "unsigned-agent")

	pre, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, nil),
		Sign:       true,
	})
	require.NoError(t, err, "an unsigned reflex is still valid")
	assert.False(t, pre.Signed)
	assert.NotEmpty(t, pre.Warnings)
}

func TestAliasResolutionThroughAPI(t *testing.T) {
	a := openTestAPI(t, false)
	first := createSession(t, a, "worker")
	time.Sleep(5 * time.Millisecond)
	second := createSession(t, a, "worker")

	_, err := a.SessionEnd(first, "")
	require.NoError(t, err)

	got, err := a.SessionGet("latest:active:worker")
	require.NoError(t, err)
	assert.Equal(t, second, got.SessionID)

	got, err = a.SessionGet("latest:worker")
	require.NoError(t, err)
	assert.Equal(t, second, got.SessionID)

	_, err = a.SessionEnd(second, "wrapped up")
	require.NoError(t, err)

	_, err = a.SessionGet("latest:active:worker")
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrSessionNotFound, apiErr.ErrorType)
}

func TestGoalCompletionRequiresCriticalSubtasks(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	goal, err := a.GoalCreate(models.GoalCreateInput{
		SessionID: sessionID,
		Objective: "ship the resolver",
		Scope:     models.ScopeVector{Breadth: 0.5, Duration: 0.5},
	})
	require.NoError(t, err)

	critical, err := a.GoalAddSubtask(models.SubTaskCreateInput{
		GoalID:      goal.ID,
		Description: "pass the isolation tests",
		Importance:  models.ImportanceCritical,
	})
	require.NoError(t, err)

	_, err = a.GoalComplete(goal.ID, "")
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrValidation, apiErr.ErrorType)
	assert.Contains(t, apiErr.Alternatives, critical.ID)

	_, err = a.GoalCompleteSubtask(critical.ID, "all green")
	require.NoError(t, err)

	done, err := a.GoalComplete(goal.ID, "shipped")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusComplete, done.Status)
	require.NotNil(t, done.CompletedTimestamp)
}

func TestPostflightCalibrationUpdate(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "calibrated")

	_, err := a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)
	_, err = a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.9}),
		Decision:   "proceed",
	})
	require.NoError(t, err)

	post, err := a.SubmitPostflight(PostflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.9, "completion": 1.0}),
		Evidence: []drift.EvidenceSource{
			{Metric: "test_pass_rate", NormalisedValue: 0.5, SupportsVectors: []string{"know"}, Quality: 1.0},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, post.Calibration)
	assert.Equal(t, 2, post.Calibration.VectorsFed, "know fed on both tracks")
	assert.InDelta(t, -0.4, post.Calibration.NoeticOffset, 1e-9,
		"a 0.4 overconfidence gap on CHECK yields a -0.4 noetic offset")
	assert.InDelta(t, -0.4, post.Calibration.PraxicOffset, 1e-9)

	// Each evidence source is persisted as an auditable record.
	sources, err := a.EvidenceList(sessionID, 0)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "test_pass_rate", sources[0].Metric)
	assert.Equal(t, "calibrated", sources[0].RecordedByAI)
	assert.Equal(t, post.TransactionID, sources[0].TransactionID)
	assert.Contains(t, sources[0].SupportsVectors, "know")

	// The offset now tightens the readiness gate for this agent.
	_, err = a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)
	check, err := a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.75, "uncertainty": 0.2}),
		Decision:   "proceed",
	})
	require.NoError(t, err)
	assert.False(t, check.Gate.Passed, "0.75 raw know no longer clears 0.70 after the -0.4 offset")
	assert.InDelta(t, -0.4, check.Gate.CalibrationApplied, 1e-9)
}

func TestProjectStatusLifecycle(t *testing.T) {
	a := openTestAPI(t, false)

	project, err := a.ProjectCreate(models.ProjectCreateInput{Name: "engine-rework"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusActive, project.Status)

	dormant, err := a.ProjectSetStatus(project.ID, models.ProjectStatusDormant)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDormant, dormant.Status)

	archived, err := a.ProjectSetStatus(project.ID, models.ProjectStatusArchived)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusArchived, archived.Status)

	// Archiving never touches linked sessions.
	sessionOut, err := a.SessionCreate(SessionCreateRequest{AIID: "agent-A", ProjectID: &project.ID})
	require.NoError(t, err)
	got, err := a.SessionGet(sessionOut.SessionID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())

	_, err = a.ProjectSetStatus(project.ID, "retired")
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidInput, apiErr.ErrorType)
	assert.Contains(t, apiErr.Alternatives, "dormant")

	archivedStatus := models.ProjectStatusArchived
	listed, err := a.ProjectList(&archivedStatus, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, project.ID, listed[0].ID)
}

func TestForceCloseStale(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	pre, err := a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)

	// Age the transaction's only reflex past the horizon.
	old := float64(time.Now().Add(-80*time.Hour).UnixMilli()) / 1000.0
	_, err = a.store.Exec(`UPDATE reflexes SET timestamp = ? WHERE transaction_id = ?`, old, pre.TransactionID)
	require.NoError(t, err)

	closed, err := a.ForceCloseStale()
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, pre.TransactionID, closed[0].TransactionID)

	open, err := a.reflexes.OpenTransaction(sessionID)
	require.NoError(t, err)
	assert.Empty(t, open)

	again, err := a.ForceCloseStale()
	require.NoError(t, err)
	assert.Empty(t, again, "force-close is idempotent")
}

func TestSessionResume(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "resumer")

	_, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.5}),
	})
	require.NoError(t, err)
	_, err = a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.8, "uncertainty": 0.2}),
		Decision:   "proceed",
	})
	require.NoError(t, err)
	_, err = a.SubmitPostflight(PostflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.9, "uncertainty": 0.2, "completion": 1.0}),
	})
	require.NoError(t, err)
	_, err = a.SessionEnd(sessionID, "learned the codec layout")
	require.NoError(t, err)

	resume, err := a.SessionResume(SessionResumeRequest{AIID: "resumer", Mode: ResumeLast})
	require.NoError(t, err)
	require.Len(t, resume.Trajectories, 1)
	assert.InDelta(t, 0.4, resume.Trajectories[0].LearningDelta["know"], 1e-9)
	require.NotNil(t, resume.Guidance)
	assert.True(t, resume.Guidance.ReadyToProceed)

	_, err = a.SessionResume(SessionResumeRequest{AIID: "nobody", Mode: ResumeLast})
	require.Error(t, err)
}

func TestBreadcrumbFlow(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	finding, err := a.LogFinding(models.FindingLogInput{
		SessionID: sessionID,
		Finding:   "the parser caches tokens aggressively",
		Impact:    0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, finding.ProjectID, "a default project is created on demand")

	unknown, err := a.LogUnknown(models.UnknownLogInput{
		SessionID: sessionID,
		Unknown:   "is the cache invalidated on reload?",
	})
	require.NoError(t, err)

	_, err = a.LogDeadEnd(models.DeadEndLogInput{
		SessionID: sessionID,
		Approach:  "clearing the cache on every call",
		WhyFailed: "10x latency regression",
	})
	require.NoError(t, err)

	results, err := a.BreadcrumbQuery(BreadcrumbQueryRequest{
		SessionRef: sessionID,
		Query:      "cache",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(results), 2)

	resolved, err := a.ResolveUnknown(unknown.ID, "agent-A")
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)

	_, err = a.ResolveUnknown(unknown.ID, "agent-B")
	require.Error(t, err, "resolved unknowns are immutable")
}

func TestCheckpointDiff(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPreflight(PreflightRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.5}),
	})
	require.NoError(t, err)
	_, err = a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.8}),
		Decision:   "proceed",
	})
	require.NoError(t, err)

	checkpoints, err := a.CheckpointList(sessionID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)

	// ListBySession is newest-first: diff preflight -> check.
	diff, err := a.CheckpointDiffByID(checkpoints[1].CheckpointID, checkpoints[0].CheckpointID)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, diff.Delta["know"], 1e-9)

	_, err = a.CheckpointDiffByID(checkpoints[0].CheckpointID, "no-such-checkpoint")
	require.Error(t, err)
	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInsufficientData, apiErr.ErrorType)
}

func TestActAfterProceedCheck(t *testing.T) {
	a := openTestAPI(t, false)
	sessionID := createSession(t, a, "agent-A")

	_, err := a.SubmitPreflight(PreflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)

	_, err = a.SubmitAct(ActRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.Error(t, err, "ACT before any CHECK is illegal")

	_, err = a.SubmitCheck(CheckRequest{
		SessionRef: sessionID,
		Assessment: assessment(t, map[string]float64{"know": 0.8, "uncertainty": 0.2}),
		Decision:   "proceed_with_caution",
	})
	require.NoError(t, err)

	act, err := a.SubmitAct(ActRequest{SessionRef: sessionID, Assessment: assessment(t, nil), Action: "apply the patch"})
	require.NoError(t, err)
	require.NotZero(t, act.ReflexID)

	post, err := a.SubmitPostflight(PostflightRequest{SessionRef: sessionID, Assessment: assessment(t, nil)})
	require.NoError(t, err)
	reflexes, err := a.reflexes.ListByTransaction(post.TransactionID)
	require.NoError(t, err)
	assert.Len(t, reflexes, 4)
}
