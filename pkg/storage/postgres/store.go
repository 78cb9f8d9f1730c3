// Package postgres stores workouts in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/storage"
)

//go:embed schema.sql
var schema string

// The WHERE clause turns an unchanged row into a no-op, so no row comes back
// and the caller sees a skip. xmax is zero only for a freshly inserted tuple.
// $19 marks the load columns as unknown for this run: the stored values stay.
const upsertWorkout = `
INSERT INTO workouts (
    user_id, provider, external_id, name,
    activity_type, started_at, duration_s, moving_time_s,
    avg_hr, max_hr, kilojoules, avg_power, weighted_power,
    intensity_factor, training_stress_score, load_source,
    hr_drift_pct, vo2max_minutes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (user_id, provider, external_id) DO UPDATE SET
    activity_type = EXCLUDED.activity_type,
    started_at = EXCLUDED.started_at,
    duration_s = EXCLUDED.duration_s,
    moving_time_s = EXCLUDED.moving_time_s,
    avg_hr = EXCLUDED.avg_hr,
    max_hr = EXCLUDED.max_hr,
    kilojoules = EXCLUDED.kilojoules,
    avg_power = EXCLUDED.avg_power,
    weighted_power = EXCLUDED.weighted_power,
    intensity_factor = CASE WHEN $19::boolean THEN workouts.intensity_factor ELSE EXCLUDED.intensity_factor END,
    training_stress_score = CASE WHEN $19::boolean THEN workouts.training_stress_score ELSE EXCLUDED.training_stress_score END,
    load_source = CASE WHEN $19::boolean THEN workouts.load_source ELSE EXCLUDED.load_source END,
    hr_drift_pct = EXCLUDED.hr_drift_pct,
    vo2max_minutes = CASE WHEN $19::boolean THEN workouts.vo2max_minutes ELSE EXCLUDED.vo2max_minutes END,
    updated_at = now()
WHERE (
    workouts.activity_type, workouts.started_at, workouts.duration_s, workouts.moving_time_s,
    workouts.avg_hr, workouts.max_hr, workouts.kilojoules, workouts.avg_power, workouts.weighted_power,
    workouts.hr_drift_pct
) IS DISTINCT FROM (
    EXCLUDED.activity_type, EXCLUDED.started_at, EXCLUDED.duration_s, EXCLUDED.moving_time_s,
    EXCLUDED.avg_hr, EXCLUDED.max_hr, EXCLUDED.kilojoules, EXCLUDED.avg_power, EXCLUDED.weighted_power,
    EXCLUDED.hr_drift_pct
) OR (NOT $19::boolean AND (
    workouts.intensity_factor, workouts.training_stress_score, workouts.load_source, workouts.vo2max_minutes
) IS DISTINCT FROM (
    EXCLUDED.intensity_factor, EXCLUDED.training_stress_score, EXCLUDED.load_source, EXCLUDED.vo2max_minutes
))
RETURNING (xmax = 0) AS inserted`

const latestProfile = `SELECT ftp_watts, max_hr, resting_hr
FROM athlete_profiles WHERE user_id = $1
ORDER BY effective_from DESC LIMIT 1`

// Store provides Postgres-backed persistence for synced workouts.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, w *storage.Workout) (storage.Action, error) {
	f := w.Owned()
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertWorkout,
		w.UserID, string(w.Provider), w.Activity.ExternalID, w.Activity.Name,
		f.ActivityType, f.StartedAt, f.DurationS, f.MovingTimeS,
		f.AvgHR, f.MaxHR, f.Kilojoules, f.AvgPower, f.WeightedPower,
		f.IntensityFactor, f.TrainingStressScore, f.LoadSource,
		f.HRDriftPct, f.VO2MaxMinutes, f.LoadUnknown,
	).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return storage.ActionSkipped, nil
	case err != nil:
		return "", classify(fmt.Errorf("upsert workout %s/%s: %w", w.Provider, w.Activity.ExternalID, err))
	case inserted:
		return storage.ActionCreated, nil
	default:
		return storage.ActionUpdated, nil
	}
}

func (s *Store) AthleteProfile(ctx context.Context, userID string) (metrics.AthleteProfile, error) {
	var p metrics.AthleteProfile
	err := s.pool.QueryRow(ctx, latestProfile, userID).Scan(&p.FTP, &p.MaxHR, &p.RestHR)
	if errors.Is(err, pgx.ErrNoRows) {
		return metrics.AthleteProfile{}, storage.ErrProfileNotFound
	}
	if err != nil {
		return metrics.AthleteProfile{}, classify(fmt.Errorf("load athlete profile: %w", err))
	}
	return p, nil
}

// classify marks connection loss, serialization failures and server
// resource pressure as transient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "40"),  // transaction rollback
			strings.HasPrefix(pgErr.Code, "53"),  // insufficient resources
			strings.HasPrefix(pgErr.Code, "57P"): // operator intervention
			return storage.Transient(err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return storage.Transient(err)
	}
	return err
}
