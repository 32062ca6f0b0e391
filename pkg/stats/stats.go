// Package stats provides the small set of descriptive statistics used by the
// feature builder, the scaler and the detector thresholds.
package stats

import (
	"math"
	"sort"
)

// Median returns the median of the finite values in data.
// It returns NaN when data holds no finite value.
func Median(data []float64) float64 {
	return Quantile(data, 0.5)
}

// Quantile returns the q-th quantile (q in [0,1]) of the finite values in data
// using linear interpolation between closest ranks.
// It returns NaN when data holds no finite value.
func Quantile(data []float64, q float64) float64 {
	sorted := Finite(data)
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Finite returns a copy of data without NaN and ±Inf values.
func Finite(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// MeanStd returns the mean and the sample standard deviation (n-1 denominator).
// The deviation is NaN for fewer than two values.
func MeanStd(data []float64) (mean, std float64) {
	n := len(data)
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	for _, v := range data {
		mean += v
	}
	mean /= float64(n)
	if n < 2 {
		return mean, math.NaN()
	}

	var ss float64
	for _, v := range data {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// MinMax returns the smallest and largest value in data.
func MinMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Column extracts column j of a row-major matrix.
func Column(rows [][]float64, j int) []float64 {
	col := make([]float64, len(rows))
	for i, row := range rows {
		col[i] = row[j]
	}
	return col
}
