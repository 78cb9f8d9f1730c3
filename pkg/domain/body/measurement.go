// Package body models smart-scale measurements and the rolling statistics
// derived from them.
package body

import (
	"sort"
	"time"
)

// Measurement is one weigh-in. Nil fields were not measured by the device.
type Measurement struct {
	MeasuredAt     time.Time `json:"measurement_time"`
	WeightKg       *float64  `json:"weight_kg"`
	FatMassKg      *float64  `json:"fat_mass_kg"`
	MuscleMassKg   *float64  `json:"muscle_mass_kg"`
	BoneMassKg     *float64  `json:"bone_mass_kg"`
	HydrationKg    *float64  `json:"hydration_kg"`
	FatFreeMassKg  *float64  `json:"fat_free_mass_kg"`
	BodyFatPercent *float64  `json:"body_fat_percent"`
	DeviceName     string    `json:"device_name"`

	MovingAverage *Averages `json:"moving_average_7d"`
}

// Averages holds the rolling mean of every metric over the averaging window.
type Averages struct {
	WeightKg       float64 `json:"weight_kg"`
	FatMassKg      float64 `json:"fat_mass_kg"`
	MuscleMassKg   float64 `json:"muscle_mass_kg"`
	BoneMassKg     float64 `json:"bone_mass_kg"`
	HydrationKg    float64 `json:"hydration_kg"`
	FatFreeMassKg  float64 `json:"fat_free_mass_kg"`
	BodyFatPercent float64 `json:"body_fat_percent"`
}

const (
	// DefaultWindow is the number of measurements a moving average spans.
	DefaultWindow = 7
	// minSamples is the number of non-missing values each metric needs in the
	// window before an average is reported.
	minSamples = 3
)

// metric names a Measurement field for the rolling computations.
type metric struct {
	name string
	get  func(m *Measurement) *float64
}

var averagedMetrics = []metric{
	{"weight_kg", func(m *Measurement) *float64 { return m.WeightKg }},
	{"fat_mass_kg", func(m *Measurement) *float64 { return m.FatMassKg }},
	{"muscle_mass_kg", func(m *Measurement) *float64 { return m.MuscleMassKg }},
	{"bone_mass_kg", func(m *Measurement) *float64 { return m.BoneMassKg }},
	{"hydration_kg", func(m *Measurement) *float64 { return m.HydrationKg }},
	{"fat_free_mass_kg", func(m *Measurement) *float64 { return m.FatFreeMassKg }},
	{"body_fat_percent", func(m *Measurement) *float64 { return m.BodyFatPercent }},
}

// SortByTime returns a copy of ms ordered by measurement time.
func SortByTime(ms []Measurement) []Measurement {
	out := make([]Measurement, len(ms))
	copy(out, ms)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeasuredAt.Before(out[j].MeasuredAt) })
	return out
}

// AddMovingAverage returns ms in time order with MovingAverage set on every
// measurement whose trailing window of the last window measurements holds at
// least three values for each metric. Missing values are skipped, not counted as zero.
func AddMovingAverage(ms []Measurement, window int) []Measurement {
	if window <= 0 {
		window = DefaultWindow
	}
	out := SortByTime(ms)

	for i := range out {
		start := i - window + 1
		if start < 0 {
			start = 0
		}

		means := make([]float64, len(averagedMetrics))
		complete := true
		for k, mt := range averagedMetrics {
			var sum float64
			n := 0
			for j := start; j <= i; j++ {
				if v := mt.get(&out[j]); v != nil {
					sum += *v
					n++
				}
			}
			if n < minSamples {
				complete = false
				break
			}
			means[k] = sum / float64(n)
		}

		out[i].MovingAverage = nil
		if complete {
			out[i].MovingAverage = &Averages{
				WeightKg:       means[0],
				FatMassKg:      means[1],
				MuscleMassKg:   means[2],
				BoneMassKg:     means[3],
				HydrationKg:    means[4],
				FatFreeMassKg:  means[5],
				BodyFatPercent: means[6],
			}
		}
	}
	return out
}
