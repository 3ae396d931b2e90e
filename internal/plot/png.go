// Package plot renders PPG frames: a static PNG written after each detection
// pass and an HTML live view served while samples stream in.
package plot

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/pulse.report/internal/fsutil"
	"github.com/banshee-data/pulse.report/internal/ppg"
)

var (
	signalColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	heartbeatColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PNGExporter draws the filtered signal against its timestamps and marks each
// heartbeat with a red cross. It implements ppg.Exporter.
type PNGExporter struct {
	Path  string
	Title string

	// Width and Height default to 14x6 inches.
	Width  vg.Length
	Height vg.Length

	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
}

// NewPNGExporter returns an exporter writing to path.
func NewPNGExporter(path, title string) *PNGExporter {
	return &PNGExporter{Path: path, Title: title}
}

// Export renders f and writes it to e.Path.
func (e *PNGExporter) Export(f ppg.Frame) error {
	if len(f.Timestamps) < len(f.Values) {
		return fmt.Errorf("frame has %d values but only %d timestamps", len(f.Values), len(f.Timestamps))
	}

	p, err := e.build(f)
	if err != nil {
		return err
	}

	width, height := e.Width, e.Height
	if width == 0 {
		width = 14 * vg.Inch
	}
	if height == 0 {
		height = 6 * vg.Inch
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}

	fs := e.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	out, err := fs.Create(e.Path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", e.Path, err)
	}
	if _, err := wt.WriteTo(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", e.Path, err)
	}
	return out.Close()
}

func (e *PNGExporter) build(f ppg.Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = e.Title
	p.X.Label.Text = "timestamp"
	p.Y.Label.Text = "filtered amplitude"
	p.Add(plotter.NewGrid())

	if len(f.Values) == 0 {
		return p, nil
	}

	pts := make(plotter.XYs, len(f.Values))
	for i, v := range f.Values {
		pts[i] = plotter.XY{X: float64(f.Timestamps[i]), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create signal line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = signalColor
	p.Add(line)
	p.Legend.Add("signal", line)

	beats := make(plotter.XYs, 0, len(f.Heartbeats))
	for _, idx := range f.Heartbeats {
		if idx < 0 || idx >= len(f.Values) {
			return nil, fmt.Errorf("heartbeat index %d outside frame of %d values", idx, len(f.Values))
		}
		beats = append(beats, plotter.XY{X: float64(f.Timestamps[idx]), Y: f.Values[idx]})
	}
	if len(beats) > 0 {
		sc, err := plotter.NewScatter(beats)
		if err != nil {
			return nil, fmt.Errorf("failed to create heartbeat markers: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Color = heartbeatColor
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("heartbeat", sc)
	}

	return p, nil
}
