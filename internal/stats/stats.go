// Package stats computes the descriptive statistics reported by the harness.
package stats

import "math"

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := Mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// CoefficientOfVariation returns StdDev(xs)/Mean(xs).
// It is 0 when the mean is 0.
func CoefficientOfVariation(xs []float64) float64 {
	mean := Mean(xs)
	if mean == 0 {
		return 0
	}
	return StdDev(xs) / mean
}

// Uint32s converts words to float64 samples.
func Uint32s(words []uint32) []float64 {
	xs := make([]float64, len(words))
	for i, w := range words {
		xs[i] = float64(w)
	}
	return xs
}
