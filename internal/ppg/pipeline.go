package ppg

import (
	"fmt"
	"time"

	"github.com/banshee-data/pulse.report/internal/fsutil"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

var logf = monitoring.Component("ppg")

// Frame is what plot collaborators draw: a time axis, the values on it and
// the heartbeat indices into both.
type Frame struct {
	Timestamps []int64
	Values     []float64
	Heartbeats []int
}

// Exporter receives the result of each Process call, e.g. to save a plot.
type Exporter interface {
	Export(Frame) error
}

// LiveView receives periodic snapshots of the raw buffer while samples
// stream in. Draw must not block on rendering.
type LiveView interface {
	Draw(Frame)
}

// RunRecord describes one detection pass for a Recorder.
type RunRecord struct {
	Source      string
	SampleRate  float64
	WindowWidth int
	SampleCount int
	Result      *Result
}

// Recorder persists detection passes and returns an identifier for the run.
type Recorder interface {
	RecordRun(RunRecord) (string, error)
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Capacity is the buffer length in samples.
	Capacity int
	Detector DetectorConfig
	// RefreshEvery draws the live view on the first appended sample and then
	// after every further N; zero disables live drawing.
	RefreshEvery int
	// MinRefreshInterval drops live draws that would come sooner than this
	// after the previous one.
	MinRefreshInterval time.Duration
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithFileSystem replaces the filesystem used by Load and Save.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(p *Pipeline) { p.fs = fs }
}

// WithExporter sets the collaborator that receives every Process result.
func WithExporter(e Exporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// WithLiveView sets the collaborator drawn while samples stream in.
func WithLiveView(v LiveView) Option {
	return func(p *Pipeline) { p.live = v }
}

// WithRecorder sets the collaborator that stores each detection pass.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithClock replaces the clock pacing live draws.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// PipelineStats counts ingestion outcomes.
type PipelineStats struct {
	Appended int
	Dropped  int
	Draws    int
	Runs     int
}

// Pipeline owns a SampleBuffer and a HeartbeatDetector and connects them to
// file, plot and storage collaborators. It is not safe for concurrent use:
// the caller's read loop drives it from a single goroutine.
type Pipeline struct {
	cfg      PipelineConfig
	buf      *SampleBuffer
	detector *HeartbeatDetector

	fs       fsutil.FileSystem
	exporter Exporter
	live     LiveView
	recorder Recorder
	clock    timeutil.Clock

	source   string
	throttle *timeutil.Throttle
	stats    PipelineStats
}

// NewPipeline builds the buffer and validates the detector configuration.
func NewPipeline(cfg PipelineConfig, opts ...Option) (*Pipeline, error) {
	det, err := NewDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		buf:      NewSampleBuffer(cfg.Capacity),
		detector: det,
		fs:       fsutil.OSFileSystem{},
		clock:    timeutil.RealClock{},
		source:   "stream",
	}
	for _, opt := range opts {
		opt(p)
	}
	p.throttle = timeutil.NewThrottle(p.clock, cfg.MinRefreshInterval)
	return p, nil
}

// Buffer exposes the owned sample buffer.
func (p *Pipeline) Buffer() *SampleBuffer { return p.buf }

// Detector exposes the configured detector.
func (p *Pipeline) Detector() *HeartbeatDetector { return p.detector }

// Stats returns ingestion counters.
func (p *Pipeline) Stats() PipelineStats { return p.stats }

// Append ingests one transport record. A malformed record is logged, counted
// and returned; the buffer is unchanged and the caller should keep reading.
func (p *Pipeline) Append(raw string) error {
	if err := p.buf.Append(raw); err != nil {
		p.stats.Dropped++
		logf("received invalid data: %v", err)
		return err
	}
	before := p.stats.Appended
	p.stats.Appended++

	if p.live != nil && p.cfg.RefreshEvery > 0 && before%p.cfg.RefreshEvery == 0 {
		p.drawLive()
	}
	return nil
}

func (p *Pipeline) drawLive() {
	if !p.throttle.Allow() {
		return
	}
	p.stats.Draws++
	p.live.Draw(Frame{
		Timestamps: p.buf.Timestamps(),
		Values:     p.buf.Values(),
	})
}

// Reset empties the buffer.
func (p *Pipeline) Reset() {
	p.buf.Reset()
	p.source = "stream"
}

// Load replaces the buffer contents with the recording at path. On failure
// the buffer is left unchanged.
func (p *Pipeline) Load(path string) error {
	r, err := p.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer r.Close()

	if err := p.buf.Load(r); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	p.source = path
	return nil
}

// Save writes the buffer to path as "timestamp,value" lines.
func (p *Pipeline) Save(path string) error {
	w, err := p.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	if err := p.buf.Save(w); err != nil {
		w.Close()
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// OnUserSaveRequest handles a save request raised from a live view.
func (p *Pipeline) OnUserSaveRequest(path string) error {
	logf("saving %d samples to %s", p.buf.Len(), path)
	return p.Save(path)
}

// Process runs heartbeat detection over the buffer, then hands the filtered
// frame to the exporter and the run to the recorder. The result is returned
// even when a collaborator fails.
func (p *Pipeline) Process() (*Result, error) {
	res := p.detector.Run(p.buf)
	p.stats.Runs++

	if res.Windows == 0 {
		logf("buffer holds %d samples, fewer than one %d-sample window; nothing to detect",
			p.buf.Len(), p.detector.WindowWidth())
	}

	if p.exporter != nil {
		frame := Frame{
			Timestamps: res.Timestamps,
			Values:     res.Filtered,
			Heartbeats: res.Heartbeats,
		}
		if err := p.exporter.Export(frame); err != nil {
			return res, fmt.Errorf("failed to export result: %w", err)
		}
	}

	if p.recorder != nil {
		id, err := p.recorder.RecordRun(RunRecord{
			Source:      p.source,
			SampleRate:  p.detector.Config().SampleRate,
			WindowWidth: p.detector.WindowWidth(),
			SampleCount: p.buf.Len(),
			Result:      res,
		})
		if err != nil {
			return res, fmt.Errorf("failed to record run: %w", err)
		}
		logf("recorded run %s: %d heartbeats in %d windows", id, len(res.Heartbeats), res.Windows)
	}

	return res, nil
}
