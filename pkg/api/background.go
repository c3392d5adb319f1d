package api

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Nubaeon/empirica/internal/drift"
)

// BackgroundConfig tunes the optional background activities. Both are off
// by default; a zero interval disables that worker.
type BackgroundConfig struct {
	// DriftSweepInterval is how often the drift sweeper scans open
	// sessions for drift advisories.
	DriftSweepInterval time.Duration
	// ReconcileInterval is how often deferred git-note writes are retried.
	ReconcileInterval time.Duration
	// ReconcileBatch bounds how many deferred notes one pass retries.
	ReconcileBatch int
}

// Background owns the engine's two optional periodic workers: the drift
// sweeper and the checkpoint reconciler. Both are idempotent per pass and
// stop cleanly on Stop.
type Background struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// StartBackground launches the configured workers. The returned Background
// must be stopped before the API is closed.
func (a *API) StartBackground(parent context.Context, cfg BackgroundConfig) *Background {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)

	if cfg.DriftSweepInterval > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(cfg.DriftSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					a.sweepDrift()
				}
			}
		})
	}

	if cfg.ReconcileInterval > 0 {
		batch := cfg.ReconcileBatch
		if batch <= 0 {
			batch = 50
		}
		group.Go(func() error {
			ticker := time.NewTicker(cfg.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n, err := a.checkpoints.Reconcile(batch); err != nil {
						log.Warn().Err(err).Msg("checkpoint reconcile pass failed")
					} else if n > 0 {
						log.Info().Int("synced", n).Msg("reconciled deferred checkpoints")
					}
				}
			}
		})
	}

	return &Background{cancel: cancel, group: group}
}

// Stop cancels the workers and waits for them to exit.
func (b *Background) Stop() {
	b.cancel()
	_ = b.group.Wait()
}

// sweepDrift scans sessions that are still open and flags any whose recent
// assessments show severe drift. One pass is read-mostly: the only write
// is flipping a session's drift_detected bit, which is idempotent.
func (a *API) sweepDrift() {
	sessions, err := a.sessions.List("", 100)
	if err != nil {
		log.Warn().Err(err).Msg("drift sweep could not list sessions")
		return
	}
	for _, session := range sessions {
		if !session.IsActive() || session.DriftDetected {
			continue
		}
		report := a.sessionDrift(session.SessionID)
		if report.Severity == drift.SeveritySevere {
			session.DriftDetected = true
			if err := a.sessions.Update(session); err != nil {
				log.Warn().Err(err).Str("session_id", session.SessionID).Msg("drift sweep update failed")
				continue
			}
			log.Info().Str("session_id", session.SessionID).Float64("magnitude", report.Magnitude).Msg("drift advisory written")
		}
	}
}
