package firestore

import (
	"time"

	"github.com/fitglue/coach-sync/pkg/storage"
)

// WorkoutRecord is the stored shape of a workout document. Name is written on
// create only; the remaining user-editable fields are never touched.
type WorkoutRecord struct {
	UserID     string
	Provider   string
	ExternalID string
	Name       string
	Owned      storage.OwnedFields
	UpdatedAt  time.Time
}

type ProfileRecord struct {
	FTPWatts  float64
	MaxHR     float64
	RestingHR float64
}

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Firestore hands back whole numbers as int64 even when they were written as floats.
func getFloatPtr(m map[string]interface{}, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	}
	return nil
}

func getFloat(m map[string]interface{}, key string) float64 {
	if f := getFloatPtr(m, key); f != nil {
		return *f
	}
	return 0
}

func getInt(m map[string]interface{}, key string) int {
	return int(getFloat(m, key))
}

// floatOrNil keeps absent readings as explicit nulls so a merge clears them.
func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// --- Workout Converters ---

// OwnedToFirestore renders just the fields a sync run owns.
func OwnedToFirestore(f storage.OwnedFields) map[string]interface{} {
	return map[string]interface{}{
		"activity_type":         f.ActivityType,
		"started_at":            f.StartedAt.UTC(),
		"duration_s":            int64(f.DurationS),
		"moving_time_s":         int64(f.MovingTimeS),
		"avg_hr":                floatOrNil(f.AvgHR),
		"max_hr":                floatOrNil(f.MaxHR),
		"kilojoules":            floatOrNil(f.Kilojoules),
		"avg_power":             floatOrNil(f.AvgPower),
		"weighted_power":        floatOrNil(f.WeightedPower),
		"intensity_factor":      floatOrNil(f.IntensityFactor),
		"training_stress_score": floatOrNil(f.TrainingStressScore),
		"load_source":           f.LoadSource,
		"hr_drift_pct":          floatOrNil(f.HRDriftPct),
		"vo2max_minutes":        floatOrNil(f.VO2MaxMinutes),
	}
}

func WorkoutToFirestore(w *WorkoutRecord) map[string]interface{} {
	m := OwnedToFirestore(w.Owned)
	m["user_id"] = w.UserID
	m["provider"] = w.Provider
	m["external_id"] = w.ExternalID
	m["name"] = w.Name
	m["updated_at"] = w.UpdatedAt
	return m
}

func FirestoreToWorkout(m map[string]interface{}) *WorkoutRecord {
	return &WorkoutRecord{
		UserID:     getString(m, "user_id"),
		Provider:   getString(m, "provider"),
		ExternalID: getString(m, "external_id"),
		Name:       getString(m, "name"),
		UpdatedAt:  getTime(m, "updated_at"),
		Owned: storage.OwnedFields{
			ActivityType:        getString(m, "activity_type"),
			StartedAt:           getTime(m, "started_at"),
			DurationS:           getInt(m, "duration_s"),
			MovingTimeS:         getInt(m, "moving_time_s"),
			AvgHR:               getFloatPtr(m, "avg_hr"),
			MaxHR:               getFloatPtr(m, "max_hr"),
			Kilojoules:          getFloatPtr(m, "kilojoules"),
			AvgPower:            getFloatPtr(m, "avg_power"),
			WeightedPower:       getFloatPtr(m, "weighted_power"),
			IntensityFactor:     getFloatPtr(m, "intensity_factor"),
			TrainingStressScore: getFloatPtr(m, "training_stress_score"),
			LoadSource:          getString(m, "load_source"),
			HRDriftPct:          getFloatPtr(m, "hr_drift_pct"),
			VO2MaxMinutes:       getFloatPtr(m, "vo2max_minutes"),
		},
	}
}

// --- AthleteProfile Converters ---

func ProfileToFirestore(p *ProfileRecord) map[string]interface{} {
	return map[string]interface{}{
		"ftp_watts":  p.FTPWatts,
		"max_hr":     p.MaxHR,
		"resting_hr": p.RestingHR,
	}
}

func FirestoreToProfile(m map[string]interface{}) *ProfileRecord {
	return &ProfileRecord{
		FTPWatts:  getFloat(m, "ftp_watts"),
		MaxHR:     getFloat(m, "max_hr"),
		RestingHR: getFloat(m, "resting_hr"),
	}
}
