package db

import (
	"database/sql"
	"time"
)

// CalibrationTrack is the persisted Welford accumulator for one
// (ai_id, track) pair, where track is "noetic" or "praxic".
type CalibrationTrack struct {
	AIID        string    `db:"ai_id"`
	Track       string    `db:"track"`
	SampleCount int64     `db:"sample_count"`
	RunningMean float64   `db:"running_mean"`
	RunningM2   float64   `db:"running_m2"`
	LastUpdated time.Time `db:"last_updated"`
}

// CalibrationRepository handles calibration_tracks database operations.
type CalibrationRepository struct {
	db *DB
}

// NewCalibrationRepository creates a new calibration repository.
func NewCalibrationRepository(db *DB) *CalibrationRepository {
	return &CalibrationRepository{db: db}
}

// Get retrieves the accumulator for (aiID, track), or nil if no observation
// has been recorded yet.
func (r *CalibrationRepository) Get(aiID, track string) (*CalibrationTrack, error) {
	var row CalibrationTrack
	query := `SELECT * FROM calibration_tracks WHERE ai_id = ? AND track = ?`
	err := r.db.Get(&row, query, aiID, track)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert writes the accumulator's current state, inserting a fresh row on
// the first observation for (aiID, track).
func (r *CalibrationRepository) Upsert(row *CalibrationTrack) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO calibration_tracks (ai_id, track, sample_count, running_mean, running_m2, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (ai_id, track) DO UPDATE SET
				sample_count = excluded.sample_count,
				running_mean = excluded.running_mean,
				running_m2 = excluded.running_m2,
				last_updated = excluded.last_updated
		`
		_, err := tx.Exec(query,
			row.AIID, row.Track, row.SampleCount, row.RunningMean, row.RunningM2, row.LastUpdated,
		)
		return err
	})
}

// TrajectoryPoint is one appended row of the per-vector calibration
// trajectory: the observed gap plus the Welford accumulator state after
// folding it in. The newest row per (ai_id, vector, phase_track) is the
// current accumulator; older rows are the trajectory history.
type TrajectoryPoint struct {
	ID          int64     `db:"id"`
	AIID        string    `db:"ai_id"`
	Vector      string    `db:"vector"`
	SessionID   string    `db:"session_id"`
	PhaseTrack  string    `db:"phase_track"`
	Gap         float64   `db:"gap"`
	Mean        float64   `db:"mean"`
	Variance    float64   `db:"variance"`
	SampleCount int64     `db:"sample_count"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// LatestTrajectory returns the newest trajectory point for
// (aiID, vector, track), or nil when no observation exists yet.
func (r *CalibrationRepository) LatestTrajectory(aiID, vector, track string) (*TrajectoryPoint, error) {
	var row TrajectoryPoint
	query := `
		SELECT * FROM calibration_trajectory
		WHERE ai_id = ? AND vector = ? AND phase_track = ?
		ORDER BY id DESC LIMIT 1
	`
	err := r.db.Get(&row, query, aiID, vector, track)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// AppendTrajectory appends one trajectory point. Rows are append-only; the
// accumulator state travels with each row instead of being updated in place.
func (r *CalibrationRepository) AppendTrajectory(p *TrajectoryPoint) error {
	return withTx(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO calibration_trajectory
				(ai_id, vector, session_id, phase_track, gap, mean, variance, sample_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			p.AIID, p.Vector, p.SessionID, p.PhaseTrack, p.Gap, p.Mean, p.Variance, p.SampleCount, p.UpdatedAt,
		)
		return err
	})
}

// ListTrajectory returns the trajectory history for (aiID, vector, track),
// oldest first, up to limit points.
func (r *CalibrationRepository) ListTrajectory(aiID, vector, track string, limit int) ([]*TrajectoryPoint, error) {
	var rows []*TrajectoryPoint
	query := `
		SELECT * FROM calibration_trajectory
		WHERE ai_id = ? AND vector = ? AND phase_track = ?
		ORDER BY id ASC LIMIT ?
	`
	if err := r.db.Select(&rows, query, aiID, vector, track, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByAI returns both tracks (noetic and praxic) known for an ai_id.
func (r *CalibrationRepository) ListByAI(aiID string) ([]*CalibrationTrack, error) {
	var rows []*CalibrationTrack
	query := `SELECT * FROM calibration_tracks WHERE ai_id = ?`
	if err := r.db.Select(&rows, query, aiID); err != nil {
		return nil, err
	}
	return rows, nil
}
