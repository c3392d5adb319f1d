package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nubaeon/empirica/internal/db"
	"github.com/Nubaeon/empirica/internal/drift"
	"github.com/Nubaeon/empirica/internal/engine"
	"github.com/Nubaeon/empirica/internal/models"
	"github.com/Nubaeon/empirica/internal/signing"
	"github.com/Nubaeon/empirica/internal/validator"
)

// PreflightRequest is the input to reflex.submit_preflight. Assessment is
// the raw submission payload in either the nested or legacy flat wire form;
// the Assessment Validator normalises it.
type PreflightRequest struct {
	SessionRef string          `json:"session_id"`
	Assessment json.RawMessage `json:"assessment"`
	CascadeID  *string         `json:"cascade_id,omitempty"`
	Task       string          `json:"task,omitempty"`
	Sign       bool            `json:"sign,omitempty"`
}

// PreflightResult is the success response for reflex.submit_preflight.
type PreflightResult struct {
	ReflexID          int64             `json:"reflex_id"`
	TransactionID     string            `json:"transaction_id"`
	CascadeID         string            `json:"cascade_id,omitempty"`
	Gate              engine.GateResult `json:"gate_result"`
	RecommendedAction string            `json:"recommended_action"`
	GitDeferred       bool              `json:"git_deferred,omitempty"`
	Signed            bool              `json:"signed,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
}

// CheckRequest is the input to reflex.submit_check.
type CheckRequest struct {
	SessionRef        string          `json:"session_id"`
	Assessment        json.RawMessage `json:"assessment"`
	Decision          string          `json:"decision"`
	Round             int             `json:"round,omitempty"` // 0 means next round
	Findings          []string        `json:"findings,omitempty"`
	RemainingUnknowns []string        `json:"remaining_unknowns,omitempty"`
	Sign              bool            `json:"sign,omitempty"`
}

// CheckResult is the success response for reflex.submit_check.
type CheckResult struct {
	ReflexID      int64             `json:"reflex_id"`
	TransactionID string            `json:"transaction_id"`
	Round         int               `json:"round"`
	Gate          engine.GateResult `json:"gate_result"`
	Drift         drift.Report      `json:"drift"`
	SafeToProceed bool              `json:"safe_to_proceed"`
	GitDeferred   bool              `json:"git_deferred,omitempty"`
	Signed        bool              `json:"signed,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// ActRequest is the input to reflex.submit_act.
type ActRequest struct {
	SessionRef string          `json:"session_id"`
	Assessment json.RawMessage `json:"assessment"`
	Action     string          `json:"action,omitempty"`
	Sign       bool            `json:"sign,omitempty"`
}

// ActResult is the success response for reflex.submit_act.
type ActResult struct {
	ReflexID      int64    `json:"reflex_id"`
	TransactionID string   `json:"transaction_id"`
	GitDeferred   bool     `json:"git_deferred,omitempty"`
	Signed        bool     `json:"signed,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// PostflightRequest is the input to reflex.submit_postflight.
type PostflightRequest struct {
	SessionRef string                 `json:"session_id"`
	Assessment json.RawMessage        `json:"assessment"`
	Evidence   []drift.EvidenceSource `json:"evidence,omitempty"`
	Sign       bool                   `json:"sign,omitempty"`
}

// CalibrationUpdate reports the per-track state after a POSTFLIGHT folded
// its grounded evidence into the calibration trajectory.
type CalibrationUpdate struct {
	NoeticOffset float64 `json:"noetic_offset"`
	PraxicOffset float64 `json:"praxic_offset"`
	VectorsFed   int     `json:"vectors_fed"`
}

// PostflightResult is the success response for reflex.submit_postflight.
type PostflightResult struct {
	ReflexID      int64              `json:"reflex_id"`
	TransactionID string             `json:"transaction_id"`
	LearningDelta map[string]float64 `json:"learning_delta"`
	Calibration   *CalibrationUpdate `json:"calibration_update,omitempty"`
	GitDeferred   bool               `json:"git_deferred,omitempty"`
	Signed        bool               `json:"signed,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// checkEvidence is the structured evidence blob a CHECK reflex stores: the
// declared decision plus the investigation's findings and open unknowns.
// The decision must round-trip through here because the state machine re-
// derives transaction state from persisted reflexes alone.
type checkEvidence struct {
	Decision          string   `json:"decision"`
	Findings          []string `json:"findings,omitempty"`
	RemainingUnknowns []string `json:"remaining_unknowns,omitempty"`
}

// snapshotTransaction rebuilds the engine's view of a transaction from its
// persisted reflexes.
func (a *API) snapshotTransaction(txnID string) (engine.TransactionSnapshot, []*models.Reflex, error) {
	var snap engine.TransactionSnapshot
	if txnID == "" {
		return snap, nil, nil
	}
	reflexes, err := a.reflexes.ListByTransaction(txnID)
	if err != nil {
		return snap, nil, err
	}
	for _, r := range reflexes {
		switch models.CASCADEPhase(r.Phase) {
		case models.PhasePreflight:
			snap.HasPreflight = true
		case models.PhaseCheck:
			snap.CheckRounds++
			if r.Evidence != nil {
				var ev checkEvidence
				if err := json.Unmarshal([]byte(*r.Evidence), &ev); err == nil {
					snap.LastCheckDecision = engine.CheckDecision(ev.Decision)
				}
			}
		case models.PhaseAct:
			snap.HasAct = true
		case models.PhasePostflight:
			snap.HasPostflight = true
		}
	}
	return snap, reflexes, nil
}

// transitionError converts an engine TransitionError into the envelope's
// illegal_transition shape, naming the current phase and the operations
// legal from it.
func transitionError(e *engine.TransitionError) *Error {
	apiErr := newError(ErrIllegalTransition, e.Reason).
		withContext(map[string]any{"current_phase": string(e.CurrentPhase)})
	if len(e.ExpectedNextOps) > 0 {
		apiErr = apiErr.withRecovery(e.ExpectedNextOps...)
	}
	return apiErr
}

// validationError converts a validator rejection into invalid_input.
func validationError(v *validator.ValidationError) *Error {
	return newError(ErrInvalidInput, v.Error()).
		withSuggestion("every vector needs a score in [0,1] and a non-empty rationale")
}

// joinedReasoning flattens the per-vector rationale map into the reflex's
// reasoning column, stably ordered by vector name.
func joinedReasoning(rationale map[string]string) string {
	names := make([]string, 0, len(rationale))
	for name := range rationale {
		names = append(names, name)
	}
	sort.Strings(names)
	// Collapse the common case of one shared rationale (legacy flat form).
	distinct := make(map[string]bool)
	for _, name := range names {
		distinct[rationale[name]] = true
	}
	if len(distinct) == 1 && len(names) > 0 {
		return rationale[names[0]]
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+rationale[name])
	}
	return strings.Join(parts, "; ")
}

// mirrorReflex writes the reflex's checkpoint mirror (SQLite row plus
// best-effort git note), optionally signing it. Mirror failures never fail
// the submission; they surface as git_deferred/warnings.
func (a *API) mirrorReflex(session *models.Session, cascadeID *string, phase string, round int, vectors *models.EpistemicVectors, sign bool) (gitDeferred, signed bool, warnings []string) {
	var identity *signing.Identity
	if sign {
		id, err := signing.LoadIdentity(session.AIID)
		if err != nil {
			// Signing fails open.
			warnings = append(warnings, fmt.Sprintf("signing requested but no identity for %s; reflex stored unsigned", session.AIID))
		} else {
			identity = id
			signed = true
		}
	}

	cp, err := a.checkpoints.WriteCheckpoint(models.CheckpointCreateInput{
		SessionID: session.SessionID,
		CascadeID: cascadeID,
		AIID:      session.AIID,
		Phase:     phase,
		Round:     round,
		Vectors:   vectors,
	}, a.checkpoints.HeadCommit(), identity)
	if err != nil {
		warnings = append(warnings, "checkpoint mirror failed: "+err.Error())
		return true, signed, warnings
	}
	if !cp.SyncedToNotes && a.checkpoints.GitAvailable() {
		gitDeferred = true
	}
	return gitDeferred, signed, warnings
}

// SubmitPreflight records the opening self-assessment of a new epistemic
// transaction and evaluates the engagement gate. A failed gate still
// records the reflex; the recommended action is INVESTIGATE regardless of
// every other score.
func (a *API) SubmitPreflight(req PreflightRequest) (result *PreflightResult, err error) {
	defer recoverTo(&err, "reflex.submit_preflight")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	assessment, verr := validator.Parse(req.Assessment)
	if verr != nil {
		return nil, validationError(verr)
	}

	// Bind the transaction: an explicit cascade ref reuses that cascade's
	// transaction; otherwise a still-open transaction is the target (and a
	// second PREFLIGHT into it is illegal); otherwise a fresh transaction
	// begins, with a cascade row created to carry it.
	var txnID string
	var cascade *models.Cascade
	switch {
	case req.CascadeID != nil:
		cascade, err = a.cascades.Get(*req.CascadeID)
		if err != nil {
			return nil, databaseError("load cascade", err)
		}
		if cascade == nil {
			return nil, newError(ErrInvalidInput, fmt.Sprintf("no cascade %s", *req.CascadeID)).
				withRecovery("cascade.create")
		}
		txnID = cascade.CascadeID
	default:
		open, err := a.reflexes.OpenTransaction(session.SessionID)
		if err != nil {
			return nil, databaseError("find open transaction", err)
		}
		if open != "" {
			txnID = open
			cascade, _ = a.cascades.GetByTransaction(open)
		}
	}

	snap, _, err := a.snapshotTransaction(txnID)
	if err != nil {
		return nil, databaseError("load transaction", err)
	}
	if terr := engine.ValidateSubmitPreflight(snap); terr != nil {
		return nil, transitionError(terr)
	}

	if txnID == "" {
		task := req.Task
		if task == "" {
			task = "unspecified task"
		}
		cascade = models.NewCascade(session.SessionID, task)
		if err := a.cascades.Create(cascade); err != nil {
			return nil, databaseError("create cascade", err)
		}
		txnID = cascade.CascadeID
	}

	gate := engine.EvaluateEngagementGate(assessment.Vectors, a.thresholds)

	reflex := models.NewReflex(session.SessionID, string(models.PhasePreflight), assessment.Vectors, 1, txnID)
	if cascade != nil {
		reflex.CascadeID = &cascade.CascadeID
	}
	reflex.ProjectID = session.ProjectID
	reasoning := joinedReasoning(assessment.Rationale)
	reflex.Reasoning = &reasoning
	if len(assessment.Evidence) > 0 {
		raw, _ := json.Marshal(assessment.Evidence)
		s := string(raw)
		reflex.Evidence = &s
	}
	if err := a.reflexes.Create(reflex); err != nil {
		return nil, databaseError("write preflight reflex", err)
	}

	if cascade != nil {
		if err := a.cascades.UpdatePhase(cascade.CascadeID, models.PhasePreflight, true); err != nil {
			return nil, databaseError("mark preflight complete", err)
		}
		if err := a.cascades.SetEngagementGate(cascade.CascadeID, gate.Passed); err != nil {
			return nil, databaseError("record engagement gate", err)
		}
		session.TotalCascades++
		if uerr := a.sessions.Update(session); uerr != nil {
			log.Debug().Err(uerr).Msg("failed to bump session cascade count")
		}
	}

	gitDeferred, signed, warnings := a.mirrorReflex(session, reflex.CascadeID, reflex.Phase, reflex.Round, assessment.Vectors, req.Sign)
	a.rememberActive(session.SessionID, txnID)

	cascadeID := ""
	if cascade != nil {
		cascadeID = cascade.CascadeID
	}
	return &PreflightResult{
		ReflexID:          reflex.ID,
		TransactionID:     txnID,
		CascadeID:         cascadeID,
		Gate:              gate,
		RecommendedAction: gate.RecommendedAction,
		GitDeferred:       gitDeferred,
		Signed:            signed,
		Warnings:          append(warnings, assessment.Warnings...),
	}, nil
}

// SubmitCheck records an investigation checkpoint, classifies drift over
// the session's recent reflexes, and evaluates the readiness gate with the
// agent's calibration offset applied. Severe drift marks the response
// unsafe to proceed but the CHECK itself is recorded (drift fails open for
// recording, closed for acting).
func (a *API) SubmitCheck(req CheckRequest) (result *CheckResult, err error) {
	defer recoverTo(&err, "reflex.submit_check")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	assessment, verr := validator.Parse(req.Assessment)
	if verr != nil {
		return nil, validationError(verr)
	}

	decision := engine.CheckDecision(req.Decision)
	switch decision {
	case engine.DecisionProceed, engine.DecisionProceedWithCaution, engine.DecisionInvestigate:
	default:
		return nil, newError(ErrInvalidInput, fmt.Sprintf("unknown CHECK decision %q", req.Decision)).
			withAlternatives([]string{
				string(engine.DecisionProceed),
				string(engine.DecisionProceedWithCaution),
				string(engine.DecisionInvestigate),
			})
	}

	txnID, err := a.reflexes.OpenTransaction(session.SessionID)
	if err != nil {
		return nil, databaseError("find open transaction", err)
	}
	snap, _, err := a.snapshotTransaction(txnID)
	if err != nil {
		return nil, databaseError("load transaction", err)
	}

	round := req.Round
	if round == 0 {
		round = snap.CheckRounds + 1
	}
	if terr := engine.ValidateSubmitCheck(snap, round); terr != nil {
		return nil, transitionError(terr)
	}

	driftReport := a.sessionDrift(session.SessionID)
	offset := a.calibrationOffset(session.AIID, drift.TrackNoetic)
	gate := engine.EvaluateReadinessGate(assessment.Vectors, a.thresholds, offset)

	reflex := models.NewReflex(session.SessionID, string(models.PhaseCheck), assessment.Vectors, round, txnID)
	reflex.ProjectID = session.ProjectID
	if cascade, _ := a.cascades.GetByTransaction(txnID); cascade != nil {
		reflex.CascadeID = &cascade.CascadeID
	}
	reasoning := joinedReasoning(assessment.Rationale)
	reflex.Reasoning = &reasoning
	evRaw, _ := json.Marshal(checkEvidence{
		Decision:          string(decision),
		Findings:          req.Findings,
		RemainingUnknowns: req.RemainingUnknowns,
	})
	evStr := string(evRaw)
	reflex.Evidence = &evStr
	if err := a.reflexes.Create(reflex); err != nil {
		return nil, databaseError("write check reflex", err)
	}

	if reflex.CascadeID != nil {
		if err := a.cascades.UpdatePhase(*reflex.CascadeID, models.PhaseCheck, true); err != nil {
			return nil, databaseError("mark check complete", err)
		}
		if decision == engine.DecisionInvestigate {
			if _, err := a.cascades.IncrementInvestigationRound(*reflex.CascadeID); err != nil {
				return nil, databaseError("bump investigation round", err)
			}
			if err := a.cascades.UpdatePhase(*reflex.CascadeID, models.PhaseInvestigate, true); err != nil {
				return nil, databaseError("mark investigate", err)
			}
		}
	}

	if driftReport.Severity == drift.SeveritySevere {
		session.DriftDetected = true
		if uerr := a.sessions.Update(session); uerr != nil {
			log.Debug().Err(uerr).Msg("failed to flag session drift")
		}
	}

	gitDeferred, signed, warnings := a.mirrorReflex(session, reflex.CascadeID, reflex.Phase, round, assessment.Vectors, req.Sign)

	return &CheckResult{
		ReflexID:      reflex.ID,
		TransactionID: txnID,
		Round:         round,
		Gate:          gate,
		Drift:         driftReport,
		SafeToProceed: driftReport.SafeToProceed,
		GitDeferred:   gitDeferred,
		Signed:        signed,
		Warnings:      append(warnings, assessment.Warnings...),
	}, nil
}

// SubmitAct records the acting self-assessment. Severe drift observed at
// this point blocks the submission entirely with severe_drift; unlike a
// CHECK, an ACT on drifting foundations is refused, not just flagged.
func (a *API) SubmitAct(req ActRequest) (result *ActResult, err error) {
	defer recoverTo(&err, "reflex.submit_act")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	assessment, verr := validator.Parse(req.Assessment)
	if verr != nil {
		return nil, validationError(verr)
	}

	txnID, err := a.reflexes.OpenTransaction(session.SessionID)
	if err != nil {
		return nil, databaseError("find open transaction", err)
	}
	snap, _, err := a.snapshotTransaction(txnID)
	if err != nil {
		return nil, databaseError("load transaction", err)
	}
	if terr := engine.ValidateSubmitAct(snap); terr != nil {
		return nil, transitionError(terr)
	}

	driftReport := a.sessionDrift(session.SessionID)
	if driftReport.Severity == drift.SeveritySevere {
		return nil, newError(ErrSevereDrift, fmt.Sprintf("successive-assessment drift magnitude %.2f is severe; acting is blocked", driftReport.Magnitude)).
			withSuggestion("investigate the drifting vectors and submit another CHECK before acting").
			withRecovery(engine.OpSubmitCheck).
			withContext(map[string]any{"drift": driftReport})
	}

	reflex := models.NewReflex(session.SessionID, string(models.PhaseAct), assessment.Vectors, 1, txnID)
	reflex.ProjectID = session.ProjectID
	if cascade, _ := a.cascades.GetByTransaction(txnID); cascade != nil {
		reflex.CascadeID = &cascade.CascadeID
	}
	reasoning := joinedReasoning(assessment.Rationale)
	reflex.Reasoning = &reasoning
	if req.Action != "" {
		evRaw, _ := json.Marshal(map[string]string{"action": req.Action})
		evStr := string(evRaw)
		reflex.Evidence = &evStr
	}
	if err := a.reflexes.Create(reflex); err != nil {
		return nil, databaseError("write act reflex", err)
	}
	if reflex.CascadeID != nil {
		if err := a.cascades.UpdatePhase(*reflex.CascadeID, models.PhaseAct, true); err != nil {
			return nil, databaseError("mark act complete", err)
		}
	}

	gitDeferred, signed, warnings := a.mirrorReflex(session, reflex.CascadeID, reflex.Phase, 1, assessment.Vectors, req.Sign)

	return &ActResult{
		ReflexID:      reflex.ID,
		TransactionID: txnID,
		GitDeferred:   gitDeferred,
		Signed:        signed,
		Warnings:      append(warnings, assessment.Warnings...),
	}, nil
}

// SubmitPostflight closes the transaction: it records the final
// self-assessment, computes the learning delta against the transaction's
// PREFLIGHT, folds grounded evidence into the calibration trajectory, and
// writes the cascade's final aggregates.
func (a *API) SubmitPostflight(req PostflightRequest) (result *PostflightResult, err error) {
	defer recoverTo(&err, "reflex.submit_postflight")

	session, err := a.resolveSession(req.SessionRef)
	if err != nil {
		return nil, err
	}

	assessment, verr := validator.Parse(req.Assessment)
	if verr != nil {
		return nil, validationError(verr)
	}

	txnID, err := a.reflexes.OpenTransaction(session.SessionID)
	if err != nil {
		return nil, databaseError("find open transaction", err)
	}
	snap, reflexes, err := a.snapshotTransaction(txnID)
	if err != nil {
		return nil, databaseError("load transaction", err)
	}
	if terr := engine.ValidateSubmitPostflight(snap); terr != nil {
		return nil, transitionError(terr)
	}

	// Learning delta compares against the same transaction's PREFLIGHT,
	// never a reflex from an earlier transaction.
	var preflight *models.Reflex
	var lastCheck *models.Reflex
	for _, r := range reflexes {
		switch models.CASCADEPhase(r.Phase) {
		case models.PhasePreflight:
			preflight = r
		case models.PhaseCheck:
			lastCheck = r
		}
	}

	reflex := models.NewReflex(session.SessionID, string(models.PhasePostflight), assessment.Vectors, 1, txnID)
	reflex.ProjectID = session.ProjectID
	if cascade, _ := a.cascades.GetByTransaction(txnID); cascade != nil {
		reflex.CascadeID = &cascade.CascadeID
	}
	reasoning := joinedReasoning(assessment.Rationale)
	reflex.Reasoning = &reasoning
	if len(req.Evidence) > 0 {
		evRaw, _ := json.Marshal(req.Evidence)
		evStr := string(evRaw)
		reflex.Evidence = &evStr
	}
	if err := a.reflexes.Create(reflex); err != nil {
		return nil, databaseError("write postflight reflex", err)
	}

	delta := map[string]float64{}
	if preflight != nil {
		deltaVec := assessment.Vectors.Delta(preflight.ToVectors())
		delta = deltaVec.ToMap()
	}

	var calib *CalibrationUpdate
	if len(req.Evidence) > 0 {
		calib = a.updateCalibration(session, lastCheck, assessment.Vectors, req.Evidence)
		a.recordEvidenceSources(session, txnID, req.Evidence)
	}

	confidence := engine.Confidence(assessment.Vectors)
	if reflex.CascadeID != nil {
		if err := a.cascades.UpdatePhase(*reflex.CascadeID, models.PhasePostflight, true); err != nil {
			return nil, databaseError("mark postflight complete", err)
		}
		if err := a.cascades.Complete(*reflex.CascadeID, "completed", confidence); err != nil {
			return nil, databaseError("close cascade", err)
		}
	}

	if avg, aerr := a.cascades.AvgFinalConfidence(session.SessionID); aerr == nil && avg != nil {
		session.AvgConfidence = avg
		if uerr := a.sessions.Update(session); uerr != nil {
			log.Debug().Err(uerr).Msg("failed to refresh session avg confidence")
		}
	}

	gitDeferred, signed, warnings := a.mirrorReflex(session, reflex.CascadeID, reflex.Phase, 1, assessment.Vectors, req.Sign)

	return &PostflightResult{
		ReflexID:      reflex.ID,
		TransactionID: txnID,
		LearningDelta: delta,
		Calibration:   calib,
		GitDeferred:   gitDeferred,
		Signed:        signed,
		Warnings:      append(warnings, assessment.Warnings...),
	}, nil
}

// sessionDrift computes successive-assessment drift over the session's
// most recent reflexes, newest first.
func (a *API) sessionDrift(sessionID string) drift.Report {
	recent, err := a.reflexes.ListBySession(sessionID, a.driftCfg.Window)
	if err != nil {
		log.Debug().Err(err).Msg("drift read failed; reporting insufficient data")
		return drift.Report{Severity: drift.SeverityInsufficientData, SafeToProceed: true}
	}
	vectors := make([]*models.EpistemicVectors, len(recent))
	for i, r := range recent {
		vectors[i] = r.ToVectors()
	}
	return drift.DetectSuccessive(vectors, a.driftCfg)
}

// calibrationOffset reads the additive readiness-gate offset for the gate
// vector (know) from the agent's trajectory on the given track.
func (a *API) calibrationOffset(aiID string, track drift.Track) float64 {
	point, err := a.calibration.LatestTrajectory(aiID, "know", string(track))
	if err != nil || point == nil {
		return 0
	}
	stat := drift.RunningStat{Count: point.SampleCount, Mean: point.Mean}
	return stat.Offset()
}

// updateCalibration routes grounded evidence into the two calibration
// tracks: gaps against the last CHECK's self-assessment feed the noetic
// track, gaps against the POSTFLIGHT's feed the praxic track. Each fed
// vector appends a trajectory point; the per-track aggregate rows carry
// the mean gap across vectors for the quick offset readout.
func (a *API) updateCalibration(session *models.Session, lastCheck *models.Reflex, postflight *models.EpistemicVectors, sources []drift.EvidenceSource) *CalibrationUpdate {
	update := &CalibrationUpdate{}

	feed := func(track drift.Track, selfAssessed *models.EpistemicVectors) float64 {
		if selfAssessed == nil {
			return 0
		}
		gaps := drift.ComputeGaps(selfAssessed, sources)
		var meanGapSum float64
		for vector, gap := range gaps {
			point, err := a.calibration.LatestTrajectory(session.AIID, vector, string(track))
			if err != nil {
				log.Debug().Err(err).Msg("calibration trajectory read failed")
				continue
			}
			stat := drift.RunningStat{}
			if point != nil {
				stat = drift.RunningStat{Count: point.SampleCount, Mean: point.Mean, M2: point.Variance * float64(maxI64(point.SampleCount-1, 1))}
			}
			stat.Update(gap)
			if err := a.calibration.AppendTrajectory(&db.TrajectoryPoint{
				AIID:        session.AIID,
				Vector:      vector,
				SessionID:   session.SessionID,
				PhaseTrack:  string(track),
				Gap:         gap,
				Mean:        stat.Mean,
				Variance:    stat.Variance(),
				SampleCount: stat.Count,
				UpdatedAt:   time.Now(),
			}); err != nil {
				log.Debug().Err(err).Msg("calibration trajectory append failed")
				continue
			}
			update.VectorsFed++
			meanGapSum += gap
		}
		if len(gaps) == 0 {
			return 0
		}
		overall := meanGapSum / float64(len(gaps))
		a.foldAggregateTrack(session.AIID, string(track), overall)
		return overall
	}

	var checkVectors *models.EpistemicVectors
	if lastCheck != nil {
		checkVectors = lastCheck.ToVectors()
	}
	feed(drift.TrackNoetic, checkVectors)
	feed(drift.TrackPraxic, postflight)

	update.NoeticOffset = a.calibrationOffset(session.AIID, drift.TrackNoetic)
	update.PraxicOffset = a.calibrationOffset(session.AIID, drift.TrackPraxic)
	return update
}

// recordEvidenceSources persists the POSTFLIGHT's grounded-evidence
// sources as epistemic_sources rows, one per source, so the calibration
// trajectory's inputs remain auditable. Best-effort: a failed append is
// logged, never surfaced — the calibration update already happened.
func (a *API) recordEvidenceSources(session *models.Session, txnID string, sources []drift.EvidenceSource) {
	for _, src := range sources {
		record := models.NewEpistemicSource(session.SessionID, txnID, src.Metric, src.NormalisedValue, src.Quality)
		record.ProjectID = session.ProjectID
		record.RecordedByAI = session.AIID
		vecs, err := json.Marshal(src.SupportsVectors)
		if err != nil {
			log.Debug().Err(err).Msg("evidence source vectors not serialisable")
			continue
		}
		record.SupportsVectors = string(vecs)
		if err := a.evidence.Create(record); err != nil {
			log.Debug().Err(err).Str("metric", src.Metric).Msg("evidence source append failed")
		}
	}
}

// EvidenceList returns the grounded-evidence records a session's closed
// transactions were calibrated against, oldest first.
func (a *API) EvidenceList(sessionRef string, limit int) (result []*models.EpistemicSource, err error) {
	defer recoverTo(&err, "evidence.list")

	session, err := a.resolveSession(sessionRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	sources, lerr := a.evidence.ListBySession(session.SessionID, limit)
	if lerr != nil {
		return nil, databaseError("list evidence sources", lerr)
	}
	return sources, nil
}

// foldAggregateTrack updates the coarse per-track accumulator row.
func (a *API) foldAggregateTrack(aiID, track string, gap float64) {
	row, err := a.calibration.Get(aiID, track)
	if err != nil {
		log.Debug().Err(err).Msg("calibration track read failed")
		return
	}
	stat := drift.RunningStat{}
	if row != nil {
		stat = drift.RunningStat{Count: row.SampleCount, Mean: row.RunningMean, M2: row.RunningM2}
	}
	stat.Update(gap)
	err = a.calibration.Upsert(&db.CalibrationTrack{
		AIID:        aiID,
		Track:       track,
		SampleCount: stat.Count,
		RunningMean: stat.Mean,
		RunningM2:   stat.M2,
		LastUpdated: time.Now(),
	})
	if err != nil {
		log.Debug().Err(err).Msg("calibration track upsert failed")
	}
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ForceCloseResult reports one force-closed transaction.
type ForceCloseResult struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
}

// ForceCloseStale is the admin operation that closes transactions whose
// newest reflex is older than the configured horizon, synthesising a
// POSTFLIGHT with abandoned status. Idempotent: a re-run finds nothing to
// close.
func (a *API) ForceCloseStale() (results []ForceCloseResult, err error) {
	defer recoverTo(&err, "admin.force_close_stale")

	cutoff := float64(time.Now().Add(-a.horizon).UnixMilli()) / 1000.0
	stale, err := a.reflexes.ListStaleOpenTransactions(cutoff)
	if err != nil {
		return nil, databaseError("list stale transactions", err)
	}

	for _, st := range stale {
		_, reflexes, serr := a.snapshotTransaction(st.TransactionID)
		if serr != nil || len(reflexes) == 0 {
			continue
		}
		last := reflexes[len(reflexes)-1]
		vectors := last.ToVectors()

		reflex := models.NewReflex(st.SessionID, string(models.PhasePostflight), vectors, 1, st.TransactionID)
		reflex.CascadeID = last.CascadeID
		reasoning := "force-closed: transaction exceeded the abandonment horizon"
		reflex.Reasoning = &reasoning
		evStr := `{"status":"abandoned"}`
		reflex.Evidence = &evStr
		if cerr := a.reflexes.Create(reflex); cerr != nil {
			log.Warn().Err(cerr).Str("transaction_id", st.TransactionID).Msg("force-close reflex write failed")
			continue
		}
		if last.CascadeID != nil {
			_ = a.cascades.UpdatePhase(*last.CascadeID, models.PhasePostflight, true)
			_ = a.cascades.Complete(*last.CascadeID, "abandoned", engine.Confidence(vectors))
		}
		results = append(results, ForceCloseResult{SessionID: st.SessionID, TransactionID: st.TransactionID})
	}
	return results, nil
}
