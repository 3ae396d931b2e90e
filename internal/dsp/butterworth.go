package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFilterParameter is returned when a filter cannot be designed from
// the requested parameters.
var ErrInvalidFilterParameter = errors.New("invalid filter parameter")

// Order is the order of every Butterworth filter designed by this package.
const Order = 3

// Response selects the pass band of a Butterworth design.
type Response int

const (
	LowPass Response = iota
	HighPass
)

func (r Response) String() string {
	switch r {
	case LowPass:
		return "low-pass"
	case HighPass:
		return "high-pass"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

// NormalizeCutoff converts a cutoff in Hz to a fraction of the Nyquist
// frequency and checks it lies strictly inside (0, 1).
func NormalizeCutoff(cutoffHz, sampleRate float64) (float64, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, fmt.Errorf("%w: sample rate %v must be positive", ErrInvalidFilterParameter, sampleRate)
	}
	wn := cutoffHz / (0.5 * sampleRate)
	if !(wn > 0 && wn < 1) {
		return 0, fmt.Errorf("%w: cutoff %v Hz at %v Hz sampling normalises to %v, want (0, 1)",
			ErrInvalidFilterParameter, cutoffHz, sampleRate, wn)
	}
	return wn, nil
}

// Coefficients is a transfer function b(z)/a(z) with a[0] == 1.
type Coefficients struct {
	B []float64
	A []float64
}

// DesignButterworth returns the third-order digital Butterworth filter for
// the normalised cutoff wn (a fraction of Nyquist, strictly inside (0, 1)).
//
// The analogue prototype is split into a real pole at -1 and a complex pair
// at -1/2 ± j√3/2; each part goes through the bilinear transform with the
// cutoff pre-warped to tan(π·wn/2), and the two sections are multiplied back
// into a single transfer function.
func DesignButterworth(resp Response, wn float64) (Coefficients, error) {
	if !(wn > 0 && wn < 1) {
		return Coefficients{}, fmt.Errorf("%w: normalised cutoff %v outside (0, 1)", ErrInvalidFilterParameter, wn)
	}

	k := math.Tan(math.Pi * wn / 2)
	k2 := k * k

	// first-order section
	a1 := []float64{1, (k - 1) / (1 + k)}
	var b1 []float64

	// second-order section (Q = 1)
	norm := 1 + k + k2
	a2 := []float64{1, (2*k2 - 2) / norm, (1 - k + k2) / norm}
	var b2 []float64

	switch resp {
	case LowPass:
		b1 = []float64{k / (1 + k), k / (1 + k)}
		b2 = []float64{k2 / norm, 2 * k2 / norm, k2 / norm}
	case HighPass:
		b1 = []float64{1 / (1 + k), -1 / (1 + k)}
		b2 = []float64{1 / norm, -2 / norm, 1 / norm}
	default:
		return Coefficients{}, fmt.Errorf("%w: unknown response %v", ErrInvalidFilterParameter, resp)
	}

	return Coefficients{
		B: convolve(b1, b2),
		A: convolve(a1, a2),
	}, nil
}

func convolve(p, q []float64) []float64 {
	out := make([]float64, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += a * b
		}
	}
	return out
}

// IIR is a causal filter in transposed direct form II. The delay line is
// carried between calls until Reset.
type IIR struct {
	b, a []float64
	z    []float64
}

// NewIIR builds a filter from c. A must be non-empty with a non-zero leading
// term; both polynomials are normalised so that a[0] == 1.
func NewIIR(c Coefficients) (*IIR, error) {
	if len(c.A) == 0 || c.A[0] == 0 {
		return nil, fmt.Errorf("%w: leading denominator coefficient must be non-zero", ErrInvalidFilterParameter)
	}
	if len(c.B) == 0 {
		return nil, fmt.Errorf("%w: empty numerator", ErrInvalidFilterParameter)
	}

	n := len(c.A)
	if len(c.B) > n {
		n = len(c.B)
	}
	b := make([]float64, n)
	a := make([]float64, n)
	for i, v := range c.B {
		b[i] = v / c.A[0]
	}
	for i, v := range c.A {
		a[i] = v / c.A[0]
	}

	return &IIR{b: b, a: a, z: make([]float64, n-1)}, nil
}

// Step filters one sample.
func (f *IIR) Step(x float64) float64 {
	y := f.b[0]*x + f.state(0)
	last := len(f.z) - 1
	for i := 0; i < last; i++ {
		f.z[i] = f.b[i+1]*x + f.z[i+1] - f.a[i+1]*y
	}
	if last >= 0 {
		f.z[last] = f.b[last+1]*x - f.a[last+1]*y
	}
	return y
}

func (f *IIR) state(i int) float64 {
	if i < len(f.z) {
		return f.z[i]
	}
	return 0
}

// Filter runs x through the filter, continuing from the current delay line,
// and returns a new slice of the same length.
func (f *IIR) Filter(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = f.Step(v)
	}
	return out
}

// Reset zeroes the delay line.
func (f *IIR) Reset() {
	for i := range f.z {
		f.z[i] = 0
	}
}
