package metrics

import (
	"math"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name                                    string
		hrAvg, hrMaxSession, dur, hrMax, hrRest float64
		wantIF, wantTSS                         float64
	}{
		{"threshold hour", 150, 178, 3600, 190, 66, 0.83, 83.0},
		{"recovery spin at rest", 66, 150, 3600, 190, 66, 0.30, 30.0},
		{"just above rest guard", 71, 90, 3600, 190, 66, 0.30, 30.0},
		{"hard half hour, TSS from rounded IF", 185, 195, 1800, 190, 66, 1.23, 61.5},
		{"clamped at ceiling", 200, 200, 3600, 190, 66, 1.35, 135.0},
		{"compressed threshold recomputed", 88, 80, 3600, 100, 75, 0.87, 87.0},
		{"zero duration", 150, 178, 0, 190, 66, 0.83, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotIF, gotTSS := Estimate(tt.hrAvg, tt.hrMaxSession, tt.dur, tt.hrMax, tt.hrRest)
			if gotIF != tt.wantIF {
				t.Errorf("IF = %v, want %v", gotIF, tt.wantIF)
			}
			if gotTSS != tt.wantTSS {
				t.Errorf("TSS = %v, want %v", gotTSS, tt.wantTSS)
			}
		})
	}
}

func TestEstimate_BoundsAndDeterminism(t *testing.T) {
	for hrMax := 150.0; hrMax <= 210; hrMax += 15 {
		for rest := 40.0; rest <= 80; rest += 10 {
			for sessMax := 90.0; sessMax <= 220; sessMax += 13 {
				for avg := 50.0; avg <= sessMax; avg += 11 {
					if1, tss1 := Estimate(avg, sessMax, 2700, hrMax, rest)
					if2, tss2 := Estimate(avg, sessMax, 2700, hrMax, rest)
					if if1 != if2 || tss1 != tss2 {
						t.Fatalf("non-deterministic for %v/%v/%v/%v", avg, sessMax, hrMax, rest)
					}
					if if1 < minIntensity || if1 > maxIntensity {
						t.Fatalf("IF %v out of bounds for %v/%v/%v/%v", if1, avg, sessMax, hrMax, rest)
					}
					if avg <= rest+5 && if1 != minIntensity {
						t.Fatalf("IF %v, want floor for resting average %v (rest %v)", if1, avg, rest)
					}
				}
			}
		}
	}
}

func TestPowerLoad(t *testing.T) {
	ifv, tss := PowerLoad(215, 250, 3900)
	if ifv != 0.86 {
		t.Errorf("IF = %v, want 0.86", ifv)
	}
	if tss != 80.1 {
		t.Errorf("TSS = %v, want 80.1", tss)
	}
}

func TestRound_HalfAwayFromZero(t *testing.T) {
	if got := round(0.125, 2); got != 0.13 {
		t.Errorf("round(0.125, 2) = %v", got)
	}
	if got := round(-2.5, 0); got != -3 {
		t.Errorf("round(-2.5, 0) = %v", got)
	}
	if got := round(82.25, 1); math.Abs(got-82.3) > 1e-9 {
		t.Errorf("round(82.25, 1) = %v", got)
	}
}
