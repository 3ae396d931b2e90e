package ppg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/fsutil"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

type fakeExporter struct {
	frames []Frame
	err    error
}

func (e *fakeExporter) Export(f Frame) error {
	e.frames = append(e.frames, f)
	return e.err
}

type fakeLiveView struct {
	frames []Frame
}

func (v *fakeLiveView) Draw(f Frame) { v.frames = append(v.frames, f) }

type fakeRecorder struct {
	runs []RunRecord
	err  error
}

func (r *fakeRecorder) RecordRun(rec RunRecord) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.runs = append(r.runs, rec)
	return fmt.Sprintf("run-%d", len(r.runs)), nil
}

func muteLogs(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(orig) })
	return &lines
}

func fixtureFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", fixturePulseTrain))
	require.NoError(t, err)
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("recordings/pulse.csv", data)
	return mfs
}

func TestNewPipeline_InvalidDetector(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{Capacity: 10, Detector: DetectorConfig{SampleRate: 0}})
	require.Error(t, err)
	assert.Nil(t, p)
}

func TestPipeline_AppendLogsAndCountsMalformed(t *testing.T) {
	lines := muteLogs(t)

	p, err := NewPipeline(PipelineConfig{Capacity: 5, Detector: DefaultDetectorConfig(33.3)})
	require.NoError(t, err)

	require.NoError(t, p.Append("100,0,512"))
	err = p.Append("101,0,xyz")
	assert.ErrorIs(t, err, ErrMalformedRecord)

	assert.Equal(t, 1, p.Buffer().Len())
	assert.Equal(t, PipelineStats{Appended: 1, Dropped: 1}, p.Stats())
	require.Len(t, *lines, 1)
	assert.True(t, strings.HasPrefix((*lines)[0], "ppg: received invalid data"))
}

func TestPipeline_LoadProcessExport(t *testing.T) {
	muteLogs(t)
	exp := &fakeExporter{}
	rec := &fakeRecorder{}

	p, err := NewPipeline(
		PipelineConfig{Capacity: 333, Detector: DetectorConfig{SampleRate: 33, WindowSeconds: 5}},
		WithFileSystem(fixtureFS(t)),
		WithExporter(exp),
		WithRecorder(rec),
	)
	require.NoError(t, err)

	require.NoError(t, p.Load("recordings/pulse.csv"))
	assert.Equal(t, 330, p.Buffer().Len())

	res, err := p.Process()
	require.NoError(t, err)
	assert.Len(t, res.Heartbeats, 10)

	require.Len(t, exp.frames, 1)
	frame := exp.frames[0]
	assert.Equal(t, res.Heartbeats, frame.Heartbeats)
	assert.Equal(t, res.Filtered, frame.Values)
	assert.Equal(t, res.Timestamps, frame.Timestamps)

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, "recordings/pulse.csv", run.Source)
	assert.Equal(t, 33.0, run.SampleRate)
	assert.Equal(t, 165, run.WindowWidth)
	assert.Equal(t, 330, run.SampleCount)
	assert.Same(t, res, run.Result)
}

func TestPipeline_ProcessTwiceGivesSameResult(t *testing.T) {
	muteLogs(t)
	p, err := NewPipeline(
		PipelineConfig{Detector: DetectorConfig{SampleRate: 33, WindowSeconds: 5}},
		WithFileSystem(fixtureFS(t)),
	)
	require.NoError(t, err)
	require.NoError(t, p.Load("recordings/pulse.csv"))

	first, err := p.Process()
	require.NoError(t, err)
	second, err := p.Process()
	require.NoError(t, err)

	assert.Equal(t, first.Heartbeats, second.Heartbeats)
	assert.Equal(t, first.Filtered, second.Filtered)
	assert.Equal(t, 2, p.Stats().Runs)
}

func TestPipeline_ProcessShortBuffer(t *testing.T) {
	lines := muteLogs(t)
	exp := &fakeExporter{}
	p, err := NewPipeline(PipelineConfig{Capacity: 10, Detector: DefaultDetectorConfig(33.3)}, WithExporter(exp))
	require.NoError(t, err)
	require.NoError(t, p.Append("1,0,1"))

	res, err := p.Process()
	require.NoError(t, err)
	assert.Empty(t, res.Heartbeats)
	assert.Len(t, exp.frames, 1)
	assert.NotEmpty(t, *lines)
}

func TestPipeline_CollaboratorErrors(t *testing.T) {
	muteLogs(t)
	boom := errors.New("boom")

	t.Run("exporter", func(t *testing.T) {
		p, err := NewPipeline(PipelineConfig{Capacity: 10, Detector: DefaultDetectorConfig(33.3)},
			WithExporter(&fakeExporter{err: boom}))
		require.NoError(t, err)

		res, err := p.Process()
		assert.ErrorIs(t, err, boom)
		assert.NotNil(t, res)
	})

	t.Run("recorder", func(t *testing.T) {
		p, err := NewPipeline(PipelineConfig{Capacity: 10, Detector: DefaultDetectorConfig(33.3)},
			WithRecorder(&fakeRecorder{err: boom}))
		require.NoError(t, err)

		res, err := p.Process()
		assert.ErrorIs(t, err, boom)
		assert.NotNil(t, res)
	})
}

func TestPipeline_SaveThenLoad(t *testing.T) {
	muteLogs(t)
	mfs := fsutil.NewMemoryFileSystem()
	p, err := NewPipeline(PipelineConfig{Capacity: 4, Detector: DefaultDetectorConfig(33.3)}, WithFileSystem(mfs))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Append(fmt.Sprintf("%d,0,%d", 100+i, 500+i)))
	}
	require.NoError(t, p.OnUserSaveRequest("PPGRaw1.csv"))

	data, err := mfs.ReadFile("PPGRaw1.csv")
	require.NoError(t, err)
	assert.Equal(t, "102,502\n103,503\n104,504\n105,505\n", string(data))

	p.Reset()
	assert.Equal(t, 0, p.Buffer().Len())

	require.NoError(t, p.Load("PPGRaw1.csv"))
	assert.Equal(t, []int64{102, 103, 104, 105}, p.Buffer().Timestamps())
}

func TestPipeline_SaveToRealDirectory(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{Capacity: 4, Detector: DefaultDetectorConfig(33.3)})
	require.NoError(t, err)
	require.NoError(t, p.Append("1,0,2"))

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, p.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1,2\n", string(data))
}

func TestPipeline_IOFailures(t *testing.T) {
	muteLogs(t)

	t.Run("load missing file", func(t *testing.T) {
		p, err := NewPipeline(PipelineConfig{Capacity: 4, Detector: DefaultDetectorConfig(33.3)},
			WithFileSystem(fsutil.NewMemoryFileSystem()))
		require.NoError(t, err)
		require.NoError(t, p.Append("1,0,2"))

		err = p.Load("missing.csv")
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Equal(t, 1, p.Buffer().Len())
	})

	t.Run("load malformed file", func(t *testing.T) {
		mfs := fsutil.NewMemoryFileSystem()
		mfs.WriteFile("bad.csv", []byte("1,2\nnope\n"))
		p, err := NewPipeline(PipelineConfig{Capacity: 4, Detector: DefaultDetectorConfig(33.3)}, WithFileSystem(mfs))
		require.NoError(t, err)
		require.NoError(t, p.Append("1,0,2"))

		err = p.Load("bad.csv")
		assert.ErrorIs(t, err, ErrMalformedRecord)
		assert.Equal(t, []int64{1}, p.Buffer().Timestamps())
		assert.Equal(t, 4, p.Buffer().Cap())
	})

	t.Run("save create fails", func(t *testing.T) {
		mfs := fsutil.NewMemoryFileSystem()
		mfs.CreateErr = os.ErrPermission
		p, err := NewPipeline(PipelineConfig{Capacity: 4, Detector: DefaultDetectorConfig(33.3)}, WithFileSystem(mfs))
		require.NoError(t, err)

		err = p.OnUserSaveRequest("PPGRaw1.csv")
		assert.ErrorIs(t, err, os.ErrPermission)
		assert.False(t, mfs.Exists("PPGRaw1.csv"))
	})
}

func TestPipeline_LiveRefresh(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	view := &fakeLiveView{}

	p, err := NewPipeline(
		PipelineConfig{
			Capacity:           50,
			Detector:           DefaultDetectorConfig(33.3),
			RefreshEvery:       5,
			MinRefreshInterval: 100 * time.Millisecond,
		},
		WithLiveView(view),
		WithClock(clock),
	)
	require.NoError(t, err)

	appendN := func(n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, p.Append(fmt.Sprintf("%d,0,%d", p.Stats().Appended, 500)))
		}
	}

	appendN(1)
	require.Len(t, view.frames, 1, "the first sample draws at once")
	assert.Len(t, view.frames[0].Values, 1)
	assert.Nil(t, view.frames[0].Heartbeats)

	appendN(4)
	assert.Len(t, view.frames, 1)

	// sample six is a refresh point but arrives too soon after the last draw
	clock.Advance(50 * time.Millisecond)
	appendN(1)
	assert.Len(t, view.frames, 1)

	clock.Advance(60 * time.Millisecond)
	appendN(4)
	assert.Len(t, view.frames, 1)

	appendN(1)
	require.Len(t, view.frames, 2)
	assert.Len(t, view.frames[1].Values, 11)
	assert.Equal(t, 2, p.Stats().Draws)
}

func TestPipeline_LiveRefreshCadence(t *testing.T) {
	view := &fakeLiveView{}
	p, err := NewPipeline(
		PipelineConfig{Capacity: 100, Detector: DefaultDetectorConfig(33.3), RefreshEvery: 20},
		WithLiveView(view),
	)
	require.NoError(t, err)

	var drawnAt []int
	for i := 0; i < 61; i++ {
		require.NoError(t, p.Append(fmt.Sprintf("%d,0,%d", i, 500)))
		if len(view.frames) > len(drawnAt) {
			drawnAt = append(drawnAt, len(view.frames[len(view.frames)-1].Values))
		}
	}
	assert.Equal(t, []int{1, 21, 41, 61}, drawnAt)
}

func TestPipeline_LiveRefreshDisabled(t *testing.T) {
	view := &fakeLiveView{}
	p, err := NewPipeline(PipelineConfig{Capacity: 10, Detector: DefaultDetectorConfig(33.3)}, WithLiveView(view))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Append("1,0,1"))
	}
	assert.Empty(t, view.frames)
}
