package activity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// stravaActivity lists the fields we read from a Strava SummaryActivity or
// DetailedActivity. Route maps, photos, kudos and segment efforts are ignored.
type stravaActivity struct {
	ID                   *int64      `json:"id"`
	Name                 string      `json:"name"`
	Type                 string      `json:"type"`
	SportType            string      `json:"sport_type"`
	StartDate            *string     `json:"start_date"`
	ElapsedTime          *int        `json:"elapsed_time"`
	MovingTime           *int        `json:"moving_time"`
	AverageHeartrate     *float64    `json:"average_heartrate"`
	MaxHeartrate         *float64    `json:"max_heartrate"`
	Kilojoules           *float64    `json:"kilojoules"`
	AverageWatts         *float64    `json:"average_watts"`
	WeightedAverageWatts *float64    `json:"weighted_average_watts"`
	Laps                 []stravaLap `json:"laps"`
	SplitsMetric         []stravaLap `json:"splits_metric"`
}

type stravaLap struct {
	MovingTime       int      `json:"moving_time"`
	AverageHeartrate *float64 `json:"average_heartrate"`
	MaxHeartrate     *float64 `json:"max_heartrate"`
}

// StravaMapper maps Strava activity JSON.
type StravaMapper struct{}

func (StravaMapper) Map(raw RawActivity) (*Activity, error) {
	var src stravaActivity
	if err := json.Unmarshal(raw.Payload, &src); err != nil {
		return nil, &MappingError{Provider: ProviderStrava, Field: "payload", Err: fmt.Errorf("%w: %v", ErrMalformedField, err)}
	}

	if src.ID == nil {
		return nil, &MappingError{Provider: ProviderStrava, Field: "id", Err: ErrMissingField}
	}
	if *src.ID <= 0 {
		return nil, &MappingError{Provider: ProviderStrava, Field: "id", Err: ErrMalformedField}
	}
	id := strconv.FormatInt(*src.ID, 10)

	if src.StartDate == nil || *src.StartDate == "" {
		return nil, &MappingError{Provider: ProviderStrava, ExternalID: id, Field: "start_date", Err: ErrMissingField}
	}
	started, err := time.Parse(time.RFC3339, *src.StartDate)
	if err != nil {
		return nil, &MappingError{Provider: ProviderStrava, ExternalID: id, Field: "start_date", Err: fmt.Errorf("%w: %v", ErrMalformedField, err)}
	}

	if src.ElapsedTime == nil {
		return nil, &MappingError{Provider: ProviderStrava, ExternalID: id, Field: "elapsed_time", Err: ErrMissingField}
	}
	if *src.ElapsedTime < 0 {
		return nil, &MappingError{Provider: ProviderStrava, ExternalID: id, Field: "elapsed_time", Err: ErrMalformedField}
	}

	sport := src.SportType
	if sport == "" {
		sport = src.Type
	}

	a := &Activity{
		ExternalID:    id,
		Name:          src.Name,
		StartedAt:     started.UTC(),
		DurationS:     *src.ElapsedTime,
		ActivityType:  ParseType(sport),
		AvgHR:         positive(src.AverageHeartrate),
		MaxHR:         positive(src.MaxHeartrate),
		Kilojoules:    positive(src.Kilojoules),
		AvgPower:      positive(src.AverageWatts),
		WeightedPower: positive(src.WeightedAverageWatts),
	}
	if src.MovingTime != nil && *src.MovingTime > 0 {
		a.MovingTimeS = *src.MovingTime
	}

	// Laps are preferred once there are enough of them to describe the session;
	// auto-generated 1km splits otherwise.
	laps := src.SplitsMetric
	if len(src.Laps) > 2 {
		laps = src.Laps
	}
	for _, l := range laps {
		a.Laps = append(a.Laps, Lap{
			MovingTimeS: l.MovingTime,
			AvgHR:       positive(l.AverageHeartrate),
			MaxHR:       positive(l.MaxHeartrate),
		})
	}

	return a, nil
}
