// Package stats implements the column reductions used for rule thresholds.
//
// Numeric policy: standard deviation uses the sample (N-1) divisor and
// percentiles interpolate linearly between order statistics, i.e. the
// quantile q of n sorted values sits at position q*(n-1).
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of xs. It is undefined for an empty slice.
func Mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// SampleStdDev returns the N-1 standard deviation of xs.
// It is undefined for fewer than two values.
func SampleStdDev(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	mean, _ := Mean(xs)

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1)), true
}

// Percentile returns the q-quantile (0 <= q <= 1) of xs using linear
// interpolation. xs is not modified. It is undefined for an empty slice.
func Percentile(xs []float64, q float64) (float64, bool) {
	if len(xs) == 0 || math.IsNaN(q) {
		return 0, false
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return PercentileSorted(sorted, q), true
}

// PercentileSorted is Percentile for input already sorted ascending.
// sorted must not be empty.
func PercentileSorted(sorted []float64, q float64) float64 {
	switch {
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
