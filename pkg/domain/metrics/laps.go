package metrics

import (
	"math"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
)

const (
	vo2ThresholdFraction = 0.88
	vo2KineticsSeconds   = 30.0
	vo2PeakInfluenceCap  = 0.70
)

// HRDrift returns the percentage change in mean lap heart rate between the
// first and second half of the laps. ok is false when either half has no HR.
func HRDrift(laps []activity.Lap) (drift float64, ok bool) {
	half := len(laps) / 2
	if half == 0 {
		return 0, false
	}

	first, ok1 := meanHR(laps[:half])
	second, ok2 := meanHR(laps[half:])
	if !ok1 || !ok2 || first == 0 {
		return 0, false
	}
	return round((second-first)/first*100, 2), true
}

func meanHR(laps []activity.Lap) (float64, bool) {
	var sum float64
	var n int
	for _, l := range laps {
		if l.AvgHR == nil || *l.AvgHR <= 0 {
			continue
		}
		sum += *l.AvgHR
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// VO2MaxMinutes estimates minutes spent at or above the VO2max heart rate zone.
// Each lap contributes by how far its average sits above the threshold, plus
// a share of its peak once HR kinetics have had time to settle.
func VO2MaxMinutes(laps []activity.Lap, maxHR float64) float64 {
	if maxHR <= 0 {
		return 0
	}

	var seconds float64
	for _, l := range laps {
		if l.MovingTimeS <= 0 || l.AvgHR == nil || l.MaxHR == nil || *l.AvgHR <= 0 || *l.MaxHR <= 0 {
			continue
		}
		lapSeconds := float64(l.MovingTimeS)

		avgEvidence := excessAboveThreshold(*l.AvgHR / maxHR)
		peakEvidence := excessAboveThreshold(*l.MaxHR / maxHR)

		settling := clamp(1-math.Exp(-lapSeconds/vo2KineticsSeconds), 0, 1)
		peakAddBack := vo2PeakInfluenceCap * settling * peakEvidence
		fraction := clamp(avgEvidence+(1-avgEvidence)*peakAddBack, 0, 1)

		seconds += fraction * lapSeconds
	}
	return round(seconds/60, 1)
}

func excessAboveThreshold(fractionOfMax float64) float64 {
	return clamp((fractionOfMax-vo2ThresholdFraction)/(1-vo2ThresholdFraction), 0, 1)
}
