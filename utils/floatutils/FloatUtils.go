// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max.
// If min exceeds the floating point, then the function returns the min.
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// Mean calculates the arithmetic mean of a list of float64
func Mean(values ...float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	return floats.Sum(values) / float64(len(values))
}

// AllFinite returns whether every value in the list is neither NaN nor
// an infinity.
func AllFinite(floats ...float64) bool {
	for _, val := range floats {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false
		}
	}
	return true
}

// Standardize shifts and scales values in place to zero mean and unit
// standard deviation over the whole slice, stabilized by a small
// epsilon in the denominator. The input slice is returned.
func Standardize(values []float64) []float64 {
	mean := stat.Mean(values, nil)
	std := stat.StdDev(values, nil) + 1e-8
	for i := range values {
		values[i] = (values[i] - mean) / std
	}
	return values
}

// ExplainedVariance returns the fraction of the variance of yTrue that
// is captured by the predictions yPred:
//
//	1 - Var(yTrue - yPred) / Var(yTrue)
//
// A value of 1 means perfect prediction; 0 means the predictions do no
// better than the mean of yTrue. When yTrue has zero sample variance
// the ratio is undefined, and the result is 1 if the residuals also
// have zero variance and 0 otherwise, so a single-element input always
// yields a finite score.
func ExplainedVariance(yTrue, yPred []float64) float64 {
	if len(yTrue) != len(yPred) {
		panic("explainedVariance: length mismatch between targets and " +
			"predictions")
	}

	diff := make([]float64, len(yTrue))
	for i := range yTrue {
		diff[i] = yTrue[i] - yPred[i]
	}

	varTrue := stat.Variance(yTrue, nil)
	varDiff := stat.Variance(diff, nil)
	if varTrue == 0 || math.IsNaN(varTrue) {
		if varDiff == 0 || math.IsNaN(varDiff) {
			return 1.0
		}
		return 0.0
	}
	return 1.0 - varDiff/varTrue
}
