// Package numeric provides the small statistics helpers shared by the design
// sampler and the battery simulator.
package numeric

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between the closest ranks. The input is not modified.
// An empty input yields NaN.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	p = Clamp(p, 0, 100)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// PercentileInts is Percentile over integer samples.
func PercentileInts(values []int, p float64) float64 {
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	return Percentile(f, p)
}

// Mean returns the arithmetic mean, or 0 for an empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Sum returns the sum of values.
func Sum(values []float64) float64 {
	return floats.Sum(values)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NegativeRuns returns the lengths of every maximal contiguous run of
// strictly negative values.
func NegativeRuns(values []float64) []int {
	var runs []int
	current := 0
	for _, v := range values {
		if v < 0 {
			current++
			continue
		}
		if current > 0 {
			runs = append(runs, current)
			current = 0
		}
	}
	if current > 0 {
		runs = append(runs, current)
	}
	return runs
}

// ArgMin returns the index of the first smallest value, or -1 when empty.
func ArgMin(values []float64) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v < values[best] {
			best = i
		}
	}
	return best
}
