package sensitivity

import (
	"math"
	"slices"
)

// Stats summarises one quantity over all samples.
type Stats struct {
	Mean   float64
	Median float64
	Std    float64
}

// Summarize computes mean, median, and population standard deviation.
// Non-finite values propagate into the mean and std.
func Summarize(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{Mean: math.NaN(), Median: math.NaN(), Std: math.NaN()}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = 0.5 * (sorted[n/2-1] + sorted[n/2])
	}
	return Stats{Mean: mean, Median: median, Std: math.Sqrt(ss / float64(n))}
}
