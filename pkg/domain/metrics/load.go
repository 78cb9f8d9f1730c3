package metrics

import "github.com/fitglue/coach-sync/pkg/domain/activity"

// Source records which signal a Load was derived from.
type Source string

const (
	SourcePower     Source = "power"
	SourceHeartRate Source = "heart_rate"
)

// AthleteProfile holds the physiological reference points used for load.
// Zero means unknown.
type AthleteProfile struct {
	MaxHR  float64
	RestHR float64
	FTP    float64
}

// Load is a derived intensity factor and training stress score.
type Load struct {
	IntensityFactor     float64
	TrainingStressScore float64
	Source              Source
}

// Result bundles everything derived for one activity. Nil fields could not be computed.
type Result struct {
	Load          *Load
	HRDriftPct    *float64
	VO2MaxMinutes *float64
}

// Compute derives load for an activity. Power wins whenever the athlete's FTP is
// known; heart rate estimation runs only when power-based load is unavailable.
func Compute(a *activity.Activity, profile AthleteProfile) Result {
	var res Result

	if load, ok := powerLoad(a, profile); ok {
		res.Load = load
	} else if load, ok := heartRateLoad(a, profile); ok {
		res.Load = load
	}

	if drift, ok := HRDrift(a.Laps); ok {
		res.HRDriftPct = &drift
	}
	if profile.MaxHR > 0 && len(a.Laps) > 0 {
		vo2 := VO2MaxMinutes(a.Laps, profile.MaxHR)
		res.VO2MaxMinutes = &vo2
	}

	return res
}

func powerLoad(a *activity.Activity, profile AthleteProfile) (*Load, bool) {
	if profile.FTP <= 0 || !a.HasPower() {
		return nil, false
	}

	watts := a.AvgPower
	if a.WeightedPower != nil && *a.WeightedPower > 0 {
		watts = a.WeightedPower
	}

	seconds := a.MovingTimeS
	if seconds <= 0 {
		seconds = a.DurationS
	}

	ifv, tss := PowerLoad(*watts, profile.FTP, float64(seconds))
	return &Load{IntensityFactor: ifv, TrainingStressScore: tss, Source: SourcePower}, true
}

func heartRateLoad(a *activity.Activity, profile AthleteProfile) (*Load, bool) {
	if a.AvgHR == nil || a.MaxHR == nil || profile.MaxHR <= 0 || a.DurationS <= 0 {
		return nil, false
	}

	rest := profile.RestHR
	if rest <= 0 {
		rest = DefaultRestHR
	}

	ifv, tss := Estimate(*a.AvgHR, *a.MaxHR, float64(a.DurationS), profile.MaxHR, rest)
	return &Load{IntensityFactor: ifv, TrainingStressScore: tss, Source: SourceHeartRate}, true
}
