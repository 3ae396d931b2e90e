package dsp

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Detrend returns x with its least-squares straight line removed. Sequences
// shorter than two samples have no defined slope and are returned as zeros
// (a single sample minus its own mean).
func Detrend(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) < 2 {
		return out
	}

	idx := make([]float64, len(x))
	floats.Span(idx, 0, float64(len(x)-1))

	alpha, beta := stat.LinearRegression(idx, x, nil, false)
	for i, v := range x {
		out[i] = v - (alpha + beta*idx[i])
	}
	return out
}
