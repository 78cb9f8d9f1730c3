// Package activity holds the minimal coaching model built from provider payloads.
package activity

import "time"

// Provider identifies an upstream fitness platform.
type Provider string

const (
	ProviderStrava Provider = "strava"
	ProviderFitbit Provider = "fitbit"
	// ProviderWithings supplies body measurements, not activities.
	ProviderWithings Provider = "withings"
)

// RawActivity is a provider's native payload for one workout. It is decoded
// only by the provider's Mapper and never persisted.
type RawActivity struct {
	Provider Provider
	Payload  []byte
}

// Activity is the coach-relevant subset of a RawActivity.
// ExternalID is the provider's immutable identifier and the idempotency key downstream.
type Activity struct {
	ExternalID   string
	Name         string
	StartedAt    time.Time
	DurationS    int
	MovingTimeS  int
	ActivityType Type

	AvgHR         *float64
	MaxHR         *float64
	Kilojoules    *float64
	AvgPower      *float64
	WeightedPower *float64

	Laps []Lap
}

// Lap is one lap or split of an activity.
type Lap struct {
	MovingTimeS int
	AvgHR       *float64
	MaxHR       *float64
}

// HasPower reports whether the activity carries any power measurement.
func (a *Activity) HasPower() bool {
	return (a.AvgPower != nil && *a.AvgPower > 0) || (a.WeightedPower != nil && *a.WeightedPower > 0)
}

// Float returns a pointer to v. Handy for building activities in tests and adapters.
func Float(v float64) *float64 {
	return &v
}
