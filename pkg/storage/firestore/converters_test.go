package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/storage"
)

func TestWorkoutConverters(t *testing.T) {
	rec := &WorkoutRecord{
		UserID:     "athlete-1",
		Provider:   "strava",
		ExternalID: "12345",
		Name:       "Morning Ride",
		UpdatedAt:  time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC),
		Owned: storage.OwnedFields{
			ActivityType:        "Ride",
			StartedAt:           time.Date(2024, 5, 3, 6, 30, 0, 0, time.UTC),
			DurationS:           3600,
			MovingTimeS:         3500,
			AvgHR:               activity.Float(142),
			AvgPower:            activity.Float(210),
			IntensityFactor:     activity.Float(0.83),
			TrainingStressScore: activity.Float(83),
			LoadSource:          "power",
		},
	}

	m := WorkoutToFirestore(rec)
	if m["max_hr"] != nil {
		t.Errorf("max_hr = %v, want explicit nil", m["max_hr"])
	}
	if _, ok := m["max_hr"]; !ok {
		t.Error("max_hr key missing, merge would not clear it")
	}

	got := FirestoreToWorkout(m)
	if !got.Owned.Equal(rec.Owned) {
		t.Errorf("owned fields differ after conversion:\n got %+v\nwant %+v", got.Owned, rec.Owned)
	}
	if got.Name != rec.Name || got.ExternalID != rec.ExternalID || got.Provider != rec.Provider {
		t.Errorf("identity = %+v", got)
	}
}

func TestFirestoreToWorkout_IntegerNumbers(t *testing.T) {
	got := FirestoreToWorkout(map[string]interface{}{
		"duration_s": int64(1800),
		"avg_hr":     int64(150),
		"avg_power":  "not a number",
	})
	if got.Owned.DurationS != 1800 {
		t.Errorf("DurationS = %d", got.Owned.DurationS)
	}
	if got.Owned.AvgHR == nil || *got.Owned.AvgHR != 150 {
		t.Errorf("AvgHR = %v", got.Owned.AvgHR)
	}
	if got.Owned.AvgPower != nil {
		t.Errorf("AvgPower = %v, want nil", *got.Owned.AvgPower)
	}
}

func TestProfileConverters(t *testing.T) {
	got := FirestoreToProfile(map[string]interface{}{"ftp_watts": int64(250), "max_hr": 188.0})
	if got.FTPWatts != 250 || got.MaxHR != 188 || got.RestingHR != 0 {
		t.Errorf("profile = %+v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"aborted", status.Error(codes.Aborted, "contention"), true},
		{"quota", status.Error(codes.ResourceExhausted, "quota"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"permission", status.Error(codes.PermissionDenied, "no"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(fmt.Errorf("op: %w", tt.err))
			if storage.IsTransient(err) != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, !tt.transient, tt.transient)
			}
		})
	}
}

func TestWorkoutDocID(t *testing.T) {
	if got := WorkoutDocID("fitbit", "987"); got != "fitbit_987" {
		t.Errorf("WorkoutDocID = %q", got)
	}
}
