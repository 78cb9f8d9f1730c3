// Package metrics derives training load from an activity's summary data.
package metrics

import "math"

// DefaultRestHR is assumed when the athlete profile carries no resting heart rate.
const DefaultRestHR = 66.0

const (
	minIntensity = 0.30
	maxIntensity = 1.35
)

// Estimate derives intensity factor and training stress score from heart rate alone.
// It is pure: identical inputs always produce identical outputs.
//
// LTHR is taken as 90% of hrMax, lowered towards 98% of the session peak but
// never below 85% of hrMax. Sessions that peaked above threshold get a small
// bump proportional to how far into the supra-threshold band they reached.
func Estimate(hrAvg, hrMaxSession, durationS, hrMax, hrRest float64) (intensityFactor, trainingStressScore float64) {
	lthrGuess := 0.90 * hrMax
	lthr := math.Min(lthrGuess, math.Max(0.85*hrMax, 0.98*hrMaxSession))

	ifEst := hrIntensity(hrAvg, hrMaxSession, hrMax, hrRest, lthr)

	// A threshold this close to resting HR leaves no usable range.
	// Retry once with the plain guess and keep whatever that yields.
	if lthr <= hrRest+10 {
		lthr = lthrGuess
		ifEst = hrIntensity(hrAvg, hrMaxSession, hrMax, hrRest, lthr)
	}

	if hrAvg <= hrRest+5 {
		ifEst = minIntensity
	}

	intensityFactor = round(ifEst, 2)
	// TSS is built from the rounded IF, not ifEst, so it always agrees with the
	// IF reported next to it. It can differ from the unrounded formula:
	// (185, 195, 1800, 190, 66) gives 61.5 here against 61.7.
	trainingStressScore = round(durationS/3600*intensityFactor*100, 1)
	return intensityFactor, trainingStressScore
}

func hrIntensity(hrAvg, hrMaxSession, hrMax, hrRest, lthr float64) float64 {
	thrRange := math.Max(1, lthr-hrRest)
	base := (hrAvg - hrRest) / thrRange

	supra := math.Max(0, hrMaxSession-lthr)
	supraCap := math.Max(1, hrMax-lthr)
	bump := 0.08 * (supra / supraCap)

	return clamp(base+bump, minIntensity, maxIntensity)
}

// PowerLoad derives intensity factor and training stress score from power.
// watts should be normalized (weighted) power when available.
func PowerLoad(watts, ftp, durationS float64) (intensityFactor, trainingStressScore float64) {
	intensityFactor = round(watts/ftp, 2)
	trainingStressScore = round(durationS*watts*intensityFactor/(ftp*3600)*100, 1)
	return intensityFactor, trainingStressScore
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round rounds half away from zero to the given number of decimals.
func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
