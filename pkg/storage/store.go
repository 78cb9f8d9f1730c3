// Package storage defines the external workout store the sync core writes into.
// Backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/domain/metrics"
)

// Action is what an upsert did to the store.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// ErrProfileNotFound means the store holds no athlete profile for the user.
var ErrProfileNotFound = errors.New("athlete profile not found")

// Workout is one synced activity with its derived metrics.
type Workout struct {
	UserID   string
	Provider activity.Provider
	Activity *activity.Activity
	Metrics  metrics.Result
	// ProfileUnavailable is set when the athlete profile could not be read for
	// this run. Profile-derived fields are then unknown rather than absent.
	ProfileUnavailable bool
}

// Store is the upsert-by-external-key contract of the external store.
// Upsert must create the record when (UserID, Provider, ExternalID) is absent
// and otherwise write only the OwnedFields, leaving everything else alone.
type Store interface {
	Upsert(ctx context.Context, w *Workout) (Action, error)
	AthleteProfile(ctx context.Context, userID string) (metrics.AthleteProfile, error)
}

// OwnedFields are the columns this system is allowed to write on an existing record.
// Notes, perceived effort and anything else other writers manage are not here.
type OwnedFields struct {
	ActivityType        string
	StartedAt           time.Time
	DurationS           int
	MovingTimeS         int
	AvgHR               *float64
	MaxHR               *float64
	Kilojoules          *float64
	AvgPower            *float64
	WeightedPower       *float64
	IntensityFactor     *float64
	TrainingStressScore *float64
	LoadSource          string
	HRDriftPct          *float64
	VO2MaxMinutes       *float64

	// LoadUnknown means IntensityFactor, TrainingStressScore, LoadSource and
	// VO2MaxMinutes were not derived and must not replace stored values.
	LoadUnknown bool
}

// Owned flattens a workout into the fields it owns in the store.
func (w *Workout) Owned() OwnedFields {
	a := w.Activity
	f := OwnedFields{
		ActivityType:  string(a.ActivityType),
		StartedAt:     a.StartedAt.UTC(),
		DurationS:     a.DurationS,
		MovingTimeS:   a.MovingTimeS,
		AvgHR:         a.AvgHR,
		MaxHR:         a.MaxHR,
		Kilojoules:    a.Kilojoules,
		AvgPower:      a.AvgPower,
		WeightedPower: a.WeightedPower,
		HRDriftPct:    w.Metrics.HRDriftPct,
		VO2MaxMinutes: w.Metrics.VO2MaxMinutes,
		LoadUnknown:   w.ProfileUnavailable,
	}
	if load := w.Metrics.Load; load != nil {
		f.IntensityFactor = activity.Float(load.IntensityFactor)
		f.TrainingStressScore = activity.Float(load.TrainingStressScore)
		f.LoadSource = string(load.Source)
	}
	return f
}

// Over returns the fields to write over existing. Unknown load columns take
// the existing values, so a run without a profile never clears them.
func (f OwnedFields) Over(existing OwnedFields) OwnedFields {
	if f.LoadUnknown {
		f.IntensityFactor = existing.IntensityFactor
		f.TrainingStressScore = existing.TrainingStressScore
		f.LoadSource = existing.LoadSource
		f.VO2MaxMinutes = existing.VO2MaxMinutes
		f.LoadUnknown = false
	}
	return f
}

// Equal reports whether writing o over f would change nothing.
func (f OwnedFields) Equal(o OwnedFields) bool {
	return f.ActivityType == o.ActivityType &&
		f.StartedAt.Equal(o.StartedAt) &&
		f.DurationS == o.DurationS &&
		f.MovingTimeS == o.MovingTimeS &&
		sameFloat(f.AvgHR, o.AvgHR) &&
		sameFloat(f.MaxHR, o.MaxHR) &&
		sameFloat(f.Kilojoules, o.Kilojoules) &&
		sameFloat(f.AvgPower, o.AvgPower) &&
		sameFloat(f.WeightedPower, o.WeightedPower) &&
		sameFloat(f.IntensityFactor, o.IntensityFactor) &&
		sameFloat(f.TrainingStressScore, o.TrainingStressScore) &&
		f.LoadSource == o.LoadSource &&
		sameFloat(f.HRDriftPct, o.HRDriftPct) &&
		sameFloat(f.VO2MaxMinutes, o.VO2MaxMinutes)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// TransientError marks a store failure worth retrying (network, timeout, throttling).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
