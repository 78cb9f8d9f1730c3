//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/storage"
)

func newIntegrationStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("coach"),
		postgrescontainer.WithUsername("coach"),
		postgrescontainer.WithPassword("coach"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s, pool
}

func workout(avgPower float64) *storage.Workout {
	return &storage.Workout{
		UserID:   "athlete-1",
		Provider: activity.ProviderStrava,
		Activity: &activity.Activity{
			ExternalID:   "12345",
			Name:         "Morning Ride",
			StartedAt:    time.Date(2024, 5, 3, 6, 30, 0, 0, time.UTC),
			DurationS:    3600,
			MovingTimeS:  3500,
			ActivityType: activity.TypeRide,
			AvgPower:     activity.Float(avgPower),
		},
		Metrics: metrics.Result{
			Load: &metrics.Load{IntensityFactor: 0.84, TrainingStressScore: 84, Source: metrics.SourcePower},
		},
	}
}

func TestStoreUpsertLifecycle(t *testing.T) {
	s, pool := newIntegrationStore(t)
	ctx := context.Background()

	action, err := s.Upsert(ctx, workout(210))
	require.NoError(t, err)
	require.Equal(t, storage.ActionCreated, action)

	action, err = s.Upsert(ctx, workout(210))
	require.NoError(t, err)
	require.Equal(t, storage.ActionSkipped, action)

	_, err = pool.Exec(ctx, `UPDATE workouts SET notes = 'felt strong', name = 'Renamed' WHERE external_id = '12345'`)
	require.NoError(t, err)

	action, err = s.Upsert(ctx, workout(215))
	require.NoError(t, err)
	require.Equal(t, storage.ActionUpdated, action)

	var name, notes string
	var power float64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT name, notes, avg_power FROM workouts WHERE external_id = '12345'`).Scan(&name, &notes, &power))
	require.Equal(t, "Renamed", name)
	require.Equal(t, "felt strong", notes)
	require.Equal(t, 215.0, power)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM workouts`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestStoreUnknownLoadKeepsStoredValues(t *testing.T) {
	s, pool := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, workout(210))
	require.NoError(t, err)

	outage := workout(210)
	outage.Metrics = metrics.Result{}
	outage.ProfileUnavailable = true
	action, err := s.Upsert(ctx, outage)
	require.NoError(t, err)
	require.Equal(t, storage.ActionSkipped, action)

	outage = workout(220)
	outage.Metrics = metrics.Result{}
	outage.ProfileUnavailable = true
	action, err = s.Upsert(ctx, outage)
	require.NoError(t, err)
	require.Equal(t, storage.ActionUpdated, action)

	var tss float64
	var source string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT training_stress_score, load_source FROM workouts WHERE external_id = '12345'`).Scan(&tss, &source))
	require.Equal(t, 84.0, tss)
	require.Equal(t, "power", source)
}

func TestStoreAthleteProfile(t *testing.T) {
	s, pool := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.AthleteProfile(ctx, "athlete-1")
	require.ErrorIs(t, err, storage.ErrProfileNotFound)

	_, err = pool.Exec(ctx, `INSERT INTO athlete_profiles (user_id, effective_from, ftp_watts, max_hr, resting_hr)
		VALUES ('athlete-1', '2024-01-01', 240, 190, 50), ('athlete-1', '2024-04-01', 250, 188, 48)`)
	require.NoError(t, err)

	p, err := s.AthleteProfile(ctx, "athlete-1")
	require.NoError(t, err)
	require.Equal(t, metrics.AthleteProfile{FTP: 250, MaxHR: 188, RestHR: 48}, p)
}
