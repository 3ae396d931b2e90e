package dsp

import "fmt"

// ChainConfig describes the filter cascade run over each PPG window.
type ChainConfig struct {
	SampleRate float64 // samples per second
	LowPassHz  float64 // removes noise above this frequency
	HighPassHz float64 // removes drift and respiration below this frequency
}

// Chain applies de-trend, low-pass, high-pass and gradient, in that order.
// Coefficients are designed once by NewChain; filter memory is cleared at the
// start of every Apply.
type Chain struct {
	cfg      ChainConfig
	lowpass  *IIR
	highpass *IIR
}

// NewChain validates both cutoffs against the sample rate and designs the
// two Butterworth stages.
func NewChain(cfg ChainConfig) (*Chain, error) {
	lowWn, err := NormalizeCutoff(cfg.LowPassHz, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("low-pass: %w", err)
	}
	highWn, err := NormalizeCutoff(cfg.HighPassHz, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("high-pass: %w", err)
	}

	lc, err := DesignButterworth(LowPass, lowWn)
	if err != nil {
		return nil, fmt.Errorf("low-pass: %w", err)
	}
	hc, err := DesignButterworth(HighPass, highWn)
	if err != nil {
		return nil, fmt.Errorf("high-pass: %w", err)
	}

	lp, err := NewIIR(lc)
	if err != nil {
		return nil, err
	}
	hp, err := NewIIR(hc)
	if err != nil {
		return nil, err
	}

	return &Chain{cfg: cfg, lowpass: lp, highpass: hp}, nil
}

// Config returns the configuration the chain was built from.
func (c *Chain) Config() ChainConfig {
	return c.cfg
}

// Apply filters x from a zeroed filter state, so the output depends on x
// alone. Filter memory carries across x, which is how a continuous span keeps
// its state over window boundaries.
func (c *Chain) Apply(x []float64) []float64 {
	c.lowpass.Reset()
	c.highpass.Reset()

	y := Detrend(x)
	y = c.lowpass.Filter(y)
	y = c.highpass.Filter(y)
	return Gradient(y)
}
