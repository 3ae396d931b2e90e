package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pulse.report/internal/ppg"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/ppg.defaults.json"

// PPGConfig is the runtime configuration of the sensor link and the
// detector. Every field is optional; the Get* methods supply defaults for
// anything the JSON leaves out.
type PPGConfig struct {
	// Signal
	SampleRate    *float64 `json:"sample_rate,omitempty"`    // Hz
	SignalSeconds *float64 `json:"signal_seconds,omitempty"` // buffer span

	// Detector
	WindowSeconds    *float64 `json:"window_seconds,omitempty"`
	LowerThreshold   *float64 `json:"lower_threshold,omitempty"`
	UpperThreshold   *float64 `json:"upper_threshold,omitempty"`
	LowPassCutoffHz  *float64 `json:"lowpass_cutoff_hz,omitempty"`
	HighPassCutoffHz *float64 `json:"highpass_cutoff_hz,omitempty"`
	FilterMode       *string  `json:"filter_mode,omitempty"` // "windowed" or "continuous"

	// Live plot
	PlotRefresh     *int    `json:"plot_refresh,omitempty"`      // samples between redraws
	LiveMinInterval *string `json:"live_min_interval,omitempty"` // duration string like "100ms"

	// Transport
	EndOfLine         *string `json:"end_of_line,omitempty"`
	SkipFirstRecord   *bool   `json:"skip_first_record,omitempty"`
	SerialPort        *string `json:"serial_port,omitempty"`
	BaudRate          *int    `json:"baud_rate,omitempty"`
	PeripheralAddress *string `json:"peripheral_address,omitempty"`
	ConfigureModule   *bool   `json:"configure_module,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPPGConfig returns a PPGConfig with every field unset.
func EmptyPPGConfig() *PPGConfig {
	return &PPGConfig{}
}

// DefaultPPGConfig returns a PPGConfig with every field set to its default.
func DefaultPPGConfig() *PPGConfig {
	c := EmptyPPGConfig()
	return &PPGConfig{
		SampleRate:        ptrFloat64(c.GetSampleRate()),
		SignalSeconds:     ptrFloat64(c.GetSignalSeconds()),
		WindowSeconds:     ptrFloat64(c.GetWindowSeconds()),
		LowerThreshold:    ptrFloat64(c.GetLowerThreshold()),
		UpperThreshold:    ptrFloat64(c.GetUpperThreshold()),
		LowPassCutoffHz:   ptrFloat64(c.GetLowPassCutoffHz()),
		HighPassCutoffHz:  ptrFloat64(c.GetHighPassCutoffHz()),
		FilterMode:        ptrString(string(c.GetFilterMode())),
		PlotRefresh:       ptrInt(c.GetPlotRefresh()),
		LiveMinInterval:   ptrString(c.GetLiveMinInterval().String()),
		EndOfLine:         ptrString(c.GetEndOfLine()),
		SkipFirstRecord:   ptrBool(c.GetSkipFirstRecord()),
		SerialPort:        ptrString(c.GetSerialPort()),
		BaudRate:          ptrInt(c.GetBaudRate()),
		PeripheralAddress: ptrString(c.GetPeripheralAddress()),
		ConfigureModule:   ptrBool(c.GetConfigureModule()),
	}
}

// LoadConfig loads a PPGConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*PPGConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPPGConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PPGConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *PPGConfig) Validate() error {
	if c.SampleRate != nil && !(*c.SampleRate > 0) {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}
	if c.SignalSeconds != nil && !(*c.SignalSeconds > 0) {
		return fmt.Errorf("signal_seconds must be positive, got %f", *c.SignalSeconds)
	}
	if c.WindowSeconds != nil && !(*c.WindowSeconds > 0) {
		return fmt.Errorf("window_seconds must be positive, got %f", *c.WindowSeconds)
	}
	if lo, hi := c.GetLowerThreshold(), c.GetUpperThreshold(); !(lo < hi) {
		return fmt.Errorf("lower_threshold (%f) must be below upper_threshold (%f)", lo, hi)
	}

	rate := c.GetSampleRate()
	for name, cutoff := range map[string]*float64{
		"lowpass_cutoff_hz":  c.LowPassCutoffHz,
		"highpass_cutoff_hz": c.HighPassCutoffHz,
	} {
		if cutoff == nil {
			continue
		}
		if !(*cutoff > 0 && *cutoff < rate/2) {
			return fmt.Errorf("%s must be between 0 and %f (Nyquist), got %f", name, rate/2, *cutoff)
		}
	}

	if c.FilterMode != nil {
		switch ppg.FilterMode(*c.FilterMode) {
		case ppg.ModeWindowed, ppg.ModeContinuous:
		default:
			return fmt.Errorf("filter_mode must be %q or %q, got %q", ppg.ModeWindowed, ppg.ModeContinuous, *c.FilterMode)
		}
	}

	if c.PlotRefresh != nil && *c.PlotRefresh < 0 {
		return fmt.Errorf("plot_refresh must be non-negative, got %d", *c.PlotRefresh)
	}
	if c.LiveMinInterval != nil && *c.LiveMinInterval != "" {
		if _, err := time.ParseDuration(*c.LiveMinInterval); err != nil {
			return fmt.Errorf("invalid live_min_interval '%s': %w", *c.LiveMinInterval, err)
		}
	}
	if c.EndOfLine != nil && *c.EndOfLine == "" {
		return fmt.Errorf("end_of_line must not be empty")
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	return nil
}

// GetSampleRate returns the sample rate in Hz.
func (c *PPGConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 33.3
	}
	return *c.SampleRate
}

// GetSignalSeconds returns how many seconds of signal the buffer holds.
func (c *PPGConfig) GetSignalSeconds() float64 {
	if c.SignalSeconds == nil {
		return 10
	}
	return *c.SignalSeconds
}

// BufferLength returns round(signal_seconds * sample_rate).
func (c *PPGConfig) BufferLength() int {
	return int(math.Round(c.GetSignalSeconds() * c.GetSampleRate()))
}

func (c *PPGConfig) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return ppg.DefaultWindowSeconds
	}
	return *c.WindowSeconds
}

func (c *PPGConfig) GetLowerThreshold() float64 {
	if c.LowerThreshold == nil {
		return ppg.DefaultLowerThreshold
	}
	return *c.LowerThreshold
}

func (c *PPGConfig) GetUpperThreshold() float64 {
	if c.UpperThreshold == nil {
		return ppg.DefaultUpperThreshold
	}
	return *c.UpperThreshold
}

func (c *PPGConfig) GetLowPassCutoffHz() float64 {
	if c.LowPassCutoffHz == nil {
		return ppg.DefaultLowPassHz
	}
	return *c.LowPassCutoffHz
}

func (c *PPGConfig) GetHighPassCutoffHz() float64 {
	if c.HighPassCutoffHz == nil {
		return ppg.DefaultHighPassHz
	}
	return *c.HighPassCutoffHz
}

func (c *PPGConfig) GetFilterMode() ppg.FilterMode {
	if c.FilterMode == nil || *c.FilterMode == "" {
		return ppg.ModeWindowed
	}
	return ppg.FilterMode(*c.FilterMode)
}

// GetPlotRefresh returns the number of samples between live redraws.
func (c *PPGConfig) GetPlotRefresh() int {
	if c.PlotRefresh == nil {
		return 20
	}
	return *c.PlotRefresh
}

// GetLiveMinInterval parses and returns LiveMinInterval as a time.Duration.
func (c *PPGConfig) GetLiveMinInterval() time.Duration {
	if c.LiveMinInterval == nil || *c.LiveMinInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.LiveMinInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetEndOfLine returns the record delimiter used by the sensor.
func (c *PPGConfig) GetEndOfLine() string {
	if c.EndOfLine == nil || *c.EndOfLine == "" {
		return ";"
	}
	return *c.EndOfLine
}

func (c *PPGConfig) GetSkipFirstRecord() bool {
	if c.SkipFirstRecord == nil {
		return true
	}
	return *c.SkipFirstRecord
}

func (c *PPGConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

func (c *PPGConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 9600
	}
	return *c.BaudRate
}

// GetPeripheralAddress returns the BLE address of the sensor, or "" when the
// module is already paired.
func (c *PPGConfig) GetPeripheralAddress() string {
	if c.PeripheralAddress == nil {
		return ""
	}
	return *c.PeripheralAddress
}

func (c *PPGConfig) GetConfigureModule() bool {
	if c.ConfigureModule == nil {
		return false
	}
	return *c.ConfigureModule
}

// DetectorConfig converts the detector section into a ppg.DetectorConfig.
func (c *PPGConfig) DetectorConfig() ppg.DetectorConfig {
	return ppg.DetectorConfig{
		SampleRate:     c.GetSampleRate(),
		WindowSeconds:  c.GetWindowSeconds(),
		LowerThreshold: c.GetLowerThreshold(),
		UpperThreshold: c.GetUpperThreshold(),
		LowPassHz:      c.GetLowPassCutoffHz(),
		HighPassHz:     c.GetHighPassCutoffHz(),
		Mode:           c.GetFilterMode(),
	}
}

// PipelineConfig converts the config into a ppg.PipelineConfig.
func (c *PPGConfig) PipelineConfig() ppg.PipelineConfig {
	return ppg.PipelineConfig{
		Capacity:           c.BufferLength(),
		Detector:           c.DetectorConfig(),
		RefreshEvery:       c.GetPlotRefresh(),
		MinRefreshInterval: c.GetLiveMinInterval(),
	}
}
