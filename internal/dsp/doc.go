// Package dsp holds the numeric transforms applied to PPG windows before peak
// picking: linear de-trending, third-order Butterworth low/high-pass filters,
// a numerical gradient and strict local-maximum search.
//
// Every transform preserves the length of its input so that indices into the
// filtered output line up with indices into the raw sample buffer.
package dsp
