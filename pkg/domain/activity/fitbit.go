package activity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// fitbitActivity is one entry of the Fitbit activity log list.
// Durations are milliseconds.
type fitbitActivity struct {
	LogID            *int64   `json:"logId"`
	ActivityName     string   `json:"activityName"`
	StartTime        *string  `json:"startTime"`
	Duration         *int64   `json:"duration"`
	ActiveDuration   *int64   `json:"activeDuration"`
	AverageHeartRate *float64 `json:"averageHeartRate"`
}

// FitbitMapper maps Fitbit activity log JSON.
// Fitbit reports no session max HR, so HR-based load estimation will not run for these records.
type FitbitMapper struct{}

func (FitbitMapper) Map(raw RawActivity) (*Activity, error) {
	var src fitbitActivity
	if err := json.Unmarshal(raw.Payload, &src); err != nil {
		return nil, &MappingError{Provider: ProviderFitbit, Field: "payload", Err: fmt.Errorf("%w: %v", ErrMalformedField, err)}
	}

	if src.LogID == nil {
		return nil, &MappingError{Provider: ProviderFitbit, Field: "logId", Err: ErrMissingField}
	}
	if *src.LogID <= 0 {
		return nil, &MappingError{Provider: ProviderFitbit, Field: "logId", Err: ErrMalformedField}
	}
	id := strconv.FormatInt(*src.LogID, 10)

	if src.StartTime == nil || *src.StartTime == "" {
		return nil, &MappingError{Provider: ProviderFitbit, ExternalID: id, Field: "startTime", Err: ErrMissingField}
	}
	started, err := time.Parse(time.RFC3339, *src.StartTime)
	if err != nil {
		return nil, &MappingError{Provider: ProviderFitbit, ExternalID: id, Field: "startTime", Err: fmt.Errorf("%w: %v", ErrMalformedField, err)}
	}

	if src.Duration == nil {
		return nil, &MappingError{Provider: ProviderFitbit, ExternalID: id, Field: "duration", Err: ErrMissingField}
	}
	if *src.Duration < 0 {
		return nil, &MappingError{Provider: ProviderFitbit, ExternalID: id, Field: "duration", Err: ErrMalformedField}
	}

	a := &Activity{
		ExternalID:   id,
		Name:         src.ActivityName,
		StartedAt:    started.UTC(),
		DurationS:    int(*src.Duration / 1000),
		ActivityType: ParseType(src.ActivityName),
		AvgHR:        positive(src.AverageHeartRate),
	}
	if src.ActiveDuration != nil && *src.ActiveDuration > 0 {
		a.MovingTimeS = int(*src.ActiveDuration / 1000)
	}
	return a, nil
}
