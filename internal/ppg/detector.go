package ppg

import (
	"fmt"
	"math"

	"github.com/banshee-data/pulse.report/internal/dsp"
)

// MinWindowWidth is the narrowest detection window, in samples, for which a
// third-order filter cascade still produces a usable response.
const MinWindowWidth = 10

// Default detector parameters.
const (
	DefaultWindowSeconds  = 3.0
	DefaultLowerThreshold = 0.5
	DefaultUpperThreshold = 2.5
	DefaultLowPassHz      = 10.0
	DefaultHighPassHz     = 0.5
)

// FilterMode selects how filter state is handled across detection windows.
type FilterMode string

const (
	// ModeWindowed filters each window on its own from a zeroed filter state.
	ModeWindowed FilterMode = "windowed"
	// ModeContinuous filters the span covered by all full windows in one
	// pass and only uses the windows for peak search.
	ModeContinuous FilterMode = "continuous"
)

// DetectorConfig parameterises HeartbeatDetector. Zero fields other than
// SampleRate fall back to the defaults above; the threshold band falls back
// only when both thresholds are zero.
type DetectorConfig struct {
	SampleRate     float64
	WindowSeconds  float64
	LowerThreshold float64
	UpperThreshold float64
	LowPassHz      float64
	HighPassHz     float64
	Mode           FilterMode
}

// DefaultDetectorConfig returns the stock parameters for the given sample rate.
func DefaultDetectorConfig(sampleRate float64) DetectorConfig {
	return DetectorConfig{
		SampleRate:     sampleRate,
		WindowSeconds:  DefaultWindowSeconds,
		LowerThreshold: DefaultLowerThreshold,
		UpperThreshold: DefaultUpperThreshold,
		LowPassHz:      DefaultLowPassHz,
		HighPassHz:     DefaultHighPassHz,
		Mode:           ModeWindowed,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig(c.SampleRate)
	if c.WindowSeconds != 0 {
		d.WindowSeconds = c.WindowSeconds
	}
	if c.LowerThreshold != 0 || c.UpperThreshold != 0 {
		d.LowerThreshold = c.LowerThreshold
		d.UpperThreshold = c.UpperThreshold
	}
	if c.LowPassHz != 0 {
		d.LowPassHz = c.LowPassHz
	}
	if c.HighPassHz != 0 {
		d.HighPassHz = c.HighPassHz
	}
	if c.Mode != "" {
		d.Mode = c.Mode
	}
	return d
}

// WindowWidth returns round(WindowSeconds * SampleRate).
func (c DetectorConfig) WindowWidth() int {
	return int(math.Round(c.WindowSeconds * c.SampleRate))
}

// HeartbeatDetector slides non-overlapping windows over a SampleBuffer,
// filters them and keeps local maxima whose filtered amplitude lies strictly
// between the two thresholds.
type HeartbeatDetector struct {
	cfg   DetectorConfig
	width int
	chain *dsp.Chain
}

// NewDetector validates cfg and designs the filter cascade once. Invalid
// parameters return an error wrapping dsp.ErrInvalidFilterParameter.
func NewDetector(cfg DetectorConfig) (*HeartbeatDetector, error) {
	cfg = cfg.withDefaults()

	if !(cfg.LowerThreshold < cfg.UpperThreshold) {
		return nil, fmt.Errorf("%w: lower threshold %v must be below upper threshold %v",
			dsp.ErrInvalidFilterParameter, cfg.LowerThreshold, cfg.UpperThreshold)
	}
	if cfg.Mode != ModeWindowed && cfg.Mode != ModeContinuous {
		return nil, fmt.Errorf("%w: unknown filter mode %q", dsp.ErrInvalidFilterParameter, cfg.Mode)
	}

	chain, err := dsp.NewChain(dsp.ChainConfig{
		SampleRate: cfg.SampleRate,
		LowPassHz:  cfg.LowPassHz,
		HighPassHz: cfg.HighPassHz,
	})
	if err != nil {
		return nil, err
	}

	width := cfg.WindowWidth()
	if width < MinWindowWidth {
		return nil, fmt.Errorf("%w: window of %v s at %v Hz is %d samples, need at least %d",
			dsp.ErrInvalidFilterParameter, cfg.WindowSeconds, cfg.SampleRate, width, MinWindowWidth)
	}

	return &HeartbeatDetector{cfg: cfg, width: width, chain: chain}, nil
}

// Config returns the effective configuration, defaults applied.
func (d *HeartbeatDetector) Config() DetectorConfig { return d.cfg }

// WindowWidth returns the window width in samples.
func (d *HeartbeatDetector) WindowWidth() int { return d.width }

// Result is the outcome of one detection pass.
type Result struct {
	// Heartbeats are increasing indices into the buffer's time axis.
	Heartbeats []int
	// Amplitudes holds the filtered amplitude at each heartbeat.
	Amplitudes []float64
	// Filtered is the concatenated filter output of every full window.
	Filtered []float64
	// Timestamps is the buffer's time axis truncated to len(Filtered).
	Timestamps []int64
	// Windows is the number of full windows processed.
	Windows int
}

// HeartbeatTimestamps maps each heartbeat index to its timestamp. An index
// outside Timestamps is an error.
func (r *Result) HeartbeatTimestamps() ([]int64, error) {
	out := make([]int64, len(r.Heartbeats))
	for i, idx := range r.Heartbeats {
		if idx < 0 || idx >= len(r.Timestamps) {
			return nil, fmt.Errorf("heartbeat index %d outside %d timestamps", idx, len(r.Timestamps))
		}
		out[i] = r.Timestamps[idx]
	}
	return out, nil
}

// Run detects heartbeats in buf. Only floor(Len/W) full windows are used; a
// trailing partial window is ignored. A buffer shorter than one window gives
// an empty result. The filtered output is stored on buf as derived data; raw
// samples are not modified, so Run may be repeated.
func (d *HeartbeatDetector) Run(buf *SampleBuffer) *Result {
	raw := buf.Values()
	windows := len(raw) / d.width
	covered := windows * d.width

	res := &Result{
		Heartbeats: []int{},
		Amplitudes: []float64{},
		Filtered:   make([]float64, 0, covered),
		Windows:    windows,
	}

	switch d.cfg.Mode {
	case ModeContinuous:
		if covered > 0 {
			res.Filtered = append(res.Filtered, d.chain.Apply(raw[:covered])...)
		}
	default:
		for w := 0; w < windows; w++ {
			start := w * d.width
			res.Filtered = append(res.Filtered, d.chain.Apply(raw[start:start+d.width])...)
		}
	}

	for w := 0; w < windows; w++ {
		start := w * d.width
		window := res.Filtered[start : start+d.width]
		for _, p := range peaksInBand(window, d.cfg.LowerThreshold, d.cfg.UpperThreshold) {
			res.Heartbeats = append(res.Heartbeats, start+p)
			res.Amplitudes = append(res.Amplitudes, window[p])
		}
	}

	res.Timestamps = buf.Timestamps()[:covered]
	if windows > 0 {
		buf.setFiltered(res.Filtered)
	}
	return res
}

// peaksInBand returns the local maxima of x whose value lies strictly inside
// (lower, upper).
func peaksInBand(x []float64, lower, upper float64) []int {
	var out []int
	for _, p := range dsp.LocalMaxima(x) {
		if lower < x[p] && x[p] < upper {
			out = append(out, p)
		}
	}
	return out
}
