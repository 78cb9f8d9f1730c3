package activity

import (
	"errors"
	"testing"
	"time"
)

const stravaRide = `{
	"id": 12345678987654321,
	"name": "Morning Ride",
	"type": "Ride",
	"sport_type": "GravelRide",
	"start_date": "2024-05-04T07:15:00Z",
	"elapsed_time": 4207,
	"moving_time": 3900,
	"average_heartrate": 141.2,
	"max_heartrate": 176,
	"kilojoules": 812.4,
	"average_watts": 201.5,
	"weighted_average_watts": 215,
	"map": {"id": "a1", "summary_polyline": "ki{eFvqfiVqAWQIGEEKAYJgBVqDJ{BHa@jAkNJw@Pw@V{APs@"},
	"total_photo_count": 3,
	"kudos_count": 12,
	"athlete": {"id": 134815},
	"laps": [
		{"moving_time": 1200, "average_heartrate": 132, "max_heartrate": 150},
		{"moving_time": 1300, "average_heartrate": 142, "max_heartrate": 166},
		{"moving_time": 1400, "average_heartrate": 150, "max_heartrate": 176}
	]
}`

func TestStravaMapper_Map(t *testing.T) {
	a, err := Map(RawActivity{Provider: ProviderStrava, Payload: []byte(stravaRide)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.ExternalID != "12345678987654321" {
		t.Errorf("ExternalID = %q", a.ExternalID)
	}
	if !a.StartedAt.Equal(time.Date(2024, 5, 4, 7, 15, 0, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", a.StartedAt)
	}
	if a.DurationS != 4207 || a.MovingTimeS != 3900 {
		t.Errorf("durations = %d/%d", a.DurationS, a.MovingTimeS)
	}
	if a.ActivityType != TypeGravelRide {
		t.Errorf("ActivityType = %q, want sport_type to win over type", a.ActivityType)
	}
	if a.AvgHR == nil || *a.AvgHR != 141.2 {
		t.Errorf("AvgHR = %v", a.AvgHR)
	}
	if a.MaxHR == nil || *a.MaxHR != 176 {
		t.Errorf("MaxHR = %v", a.MaxHR)
	}
	if a.WeightedPower == nil || *a.WeightedPower != 215 {
		t.Errorf("WeightedPower = %v", a.WeightedPower)
	}
	if !a.HasPower() {
		t.Error("expected HasPower")
	}
	if len(a.Laps) != 3 || a.Laps[2].MovingTimeS != 1400 {
		t.Errorf("Laps = %+v", a.Laps)
	}
}

func TestStravaMapper_SplitsWhenFewLaps(t *testing.T) {
	payload := `{"id": 1, "start_date": "2024-05-04T07:15:00Z", "elapsed_time": 600, "type": "Run",
		"laps": [{"moving_time": 600}],
		"splits_metric": [{"moving_time": 300, "average_heartrate": 140}, {"moving_time": 300, "average_heartrate": 150}]}`

	a, err := Map(RawActivity{Provider: ProviderStrava, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Laps) != 2 {
		t.Fatalf("expected splits to be used, got %d laps", len(a.Laps))
	}
	if a.AvgHR != nil || a.HasPower() {
		t.Error("expected absent HR and power")
	}
}

func TestStravaMapper_ZeroReadingsAreAbsent(t *testing.T) {
	payload := `{"id": 1, "start_date": "2024-05-04T07:15:00Z", "elapsed_time": 600, "average_watts": 0, "average_heartrate": 0}`

	a, err := Map(RawActivity{Provider: ProviderStrava, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AvgPower != nil || a.AvgHR != nil {
		t.Errorf("expected zero readings dropped, got power=%v hr=%v", a.AvgPower, a.AvgHR)
	}
	if a.ActivityType != TypeWorkout {
		t.Errorf("ActivityType = %q, want fallback", a.ActivityType)
	}
}

func TestStravaMapper_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
		want    error
	}{
		{"not json", `{"id":`, "payload", ErrMalformedField},
		{"missing id", `{"start_date": "2024-05-04T07:15:00Z", "elapsed_time": 60}`, "id", ErrMissingField},
		{"string id", `{"id": "abc", "start_date": "2024-05-04T07:15:00Z", "elapsed_time": 60}`, "payload", ErrMalformedField},
		{"zero id", `{"id": 0, "start_date": "2024-05-04T07:15:00Z", "elapsed_time": 60}`, "id", ErrMalformedField},
		{"missing start", `{"id": 5, "elapsed_time": 60}`, "start_date", ErrMissingField},
		{"bad start", `{"id": 5, "start_date": "yesterday", "elapsed_time": 60}`, "start_date", ErrMalformedField},
		{"missing duration", `{"id": 5, "start_date": "2024-05-04T07:15:00Z"}`, "elapsed_time", ErrMissingField},
		{"negative duration", `{"id": 5, "start_date": "2024-05-04T07:15:00Z", "elapsed_time": -1}`, "elapsed_time", ErrMalformedField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Map(RawActivity{Provider: ProviderStrava, Payload: []byte(tt.payload)})
			var mErr *MappingError
			if !errors.As(err, &mErr) {
				t.Fatalf("expected *MappingError, got %T (%v)", err, err)
			}
			if mErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", mErr.Field, tt.field)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFitbitMapper_Map(t *testing.T) {
	payload := `{
		"logId": 19018673358,
		"activityName": "Outdoor Bike",
		"startTime": "2019-01-03T12:08:23.000-08:00",
		"duration": 1555000,
		"activeDuration": 1536000,
		"averageHeartRate": 122,
		"calories": 236,
		"heartRateZones": [{"name": "Peak", "min": 161, "max": 220, "minutes": 0}]
	}`

	a, err := Map(RawActivity{Provider: ProviderFitbit, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ExternalID != "19018673358" {
		t.Errorf("ExternalID = %q", a.ExternalID)
	}
	if a.DurationS != 1555 || a.MovingTimeS != 1536 {
		t.Errorf("durations = %d/%d", a.DurationS, a.MovingTimeS)
	}
	if !a.StartedAt.Equal(time.Date(2019, 1, 3, 20, 8, 23, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", a.StartedAt)
	}
	if a.ActivityType != TypeRide {
		t.Errorf("ActivityType = %q", a.ActivityType)
	}
	if a.MaxHR != nil {
		t.Error("fitbit list entries carry no session max HR")
	}
}

func TestMap_UnknownProvider(t *testing.T) {
	_, err := Map(RawActivity{Provider: "garmin", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"Run":            TypeRun,
		"  running ":     TypeRun,
		"VirtualRide":    TypeVirtualRide,
		"Weights":        TypeWeightTraining,
		"Kitesurf":       TypeWorkout,
		"":               TypeWorkout,
		"Rowing Machine": TypeRowing,
	}
	for in, want := range tests {
		if got := ParseType(in); got != want {
			t.Errorf("ParseType(%q) = %q, want %q", in, got, want)
		}
	}
}
