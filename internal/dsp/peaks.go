package dsp

// LocalMaxima returns the indices of samples strictly greater than both
// immediate neighbours. The first and last samples never qualify, and flat
// tops are not reported.
func LocalMaxima(x []float64) []int {
	var peaks []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] > x[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}
