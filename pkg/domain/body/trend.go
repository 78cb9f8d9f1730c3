package body

// Regression is an ordinary least squares fit of a metric against days since
// the first measurement.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
}

var trendMetrics = []string{"weight_kg", "body_fat_percent", "muscle_mass_kg", "fat_mass_kg"}

// Trends fits a line per core metric. Metrics with fewer than two values are
// left out.
func Trends(ms []Measurement) map[string]Regression {
	out := map[string]Regression{}
	sorted := SortByTime(ms)
	if len(sorted) == 0 {
		return out
	}
	start := sorted[0].MeasuredAt

	for _, name := range trendMetrics {
		get := getter(name)
		var xs, ys []float64
		for i := range sorted {
			if v := get(&sorted[i]); v != nil {
				xs = append(xs, sorted[i].MeasuredAt.Sub(start).Hours()/24)
				ys = append(ys, *v)
			}
		}
		if len(xs) < 2 {
			continue
		}
		out[name] = fit(xs, ys)
	}
	return out
}

func getter(name string) func(m *Measurement) *float64 {
	for _, mt := range averagedMetrics {
		if mt.name == name {
			return mt.get
		}
	}
	return func(*Measurement) *float64 { return nil }
}

func fit(xs, ys []float64) Regression {
	n := float64(len(xs))
	var xSum, ySum float64
	for i := range xs {
		xSum += xs[i]
		ySum += ys[i]
	}
	xMean, yMean := xSum/n, ySum/n

	var num, den float64
	for i := range xs {
		num += (xs[i] - xMean) * (ys[i] - yMean)
		den += (xs[i] - xMean) * (xs[i] - xMean)
	}
	slope := 0.0
	if den != 0 {
		slope = num / den
	}
	intercept := yMean - slope*xMean

	var ssTot, ssRes float64
	for i := range xs {
		ssTot += (ys[i] - yMean) * (ys[i] - yMean)
		r := ys[i] - (slope*xs[i] + intercept)
		ssRes += r * r
	}
	r2 := 0.0
	if ssTot != 0 {
		r2 = 1 - ssRes/ssTot
	}
	return Regression{Slope: slope, Intercept: intercept, R2: r2}
}
