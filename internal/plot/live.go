package plot

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/ppg"
)

// DefaultAssetsHost serves the echarts javascript referenced by rendered pages.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// DefaultRefreshInterval is how often an open page polls /frame.
const DefaultRefreshInterval = time.Second

// LiveView keeps the most recent frame handed to Draw and renders it as an
// echarts page on request. The page polls /frame and redraws itself, so a
// browser left open follows the stream. Posting to /save raises a save
// request that the ingest loop picks up from SaveRequests.
type LiveView struct {
	title      string
	assetsHost string
	refresh    time.Duration

	mu    sync.RWMutex
	frame ppg.Frame
	draws int

	saves chan struct{}
	mux   *http.ServeMux
}

// NewLiveView creates a view titled title.
func NewLiveView(title string) *LiveView {
	v := &LiveView{
		title:      title,
		assetsHost: DefaultAssetsHost,
		refresh:    DefaultRefreshInterval,
		saves:      make(chan struct{}, 1),
		mux:        http.NewServeMux(),
	}
	v.mux.HandleFunc("/", v.handleChart)
	v.mux.HandleFunc("/frame", v.handleFrame)
	v.mux.HandleFunc("/save", v.handleSave)
	return v
}

// SetAssetsHost changes where the page loads echarts from.
func (v *LiveView) SetAssetsHost(host string) { v.assetsHost = host }

// SetRefreshInterval changes how often an open page polls for a new frame.
// Non-positive values are ignored.
func (v *LiveView) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		v.refresh = d
	}
}

// Draw stores a copy of f for the next page render. It never blocks on a
// client.
func (v *LiveView) Draw(f ppg.Frame) {
	cp := ppg.Frame{
		Timestamps: append([]int64(nil), f.Timestamps...),
		Values:     append([]float64(nil), f.Values...),
		Heartbeats: append([]int(nil), f.Heartbeats...),
	}
	v.mu.Lock()
	v.frame = cp
	v.draws++
	v.mu.Unlock()
}

// Frame returns the most recently drawn frame.
func (v *LiveView) Frame() ppg.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame
}

// SaveRequests delivers one value per pending save request. Requests raised
// while one is already pending are merged into it.
func (v *LiveView) SaveRequests() <-chan struct{} { return v.saves }

// RequestSave queues a save request and reports whether it was queued rather
// than merged with a pending one.
func (v *LiveView) RequestSave() bool {
	select {
	case v.saves <- struct{}{}:
		return true
	default:
		return false
	}
}

func (v *LiveView) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mux.ServeHTTP(w, r)
}

func (v *LiveView) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v.mu.RLock()
	frame := v.frame
	draws := v.draws
	v.mu.RUnlock()

	var buf bytes.Buffer
	if err := v.chart(frame, draws).Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// framePayload is the JSON body served by /frame: [timestamp, value] pairs
// for the trace and for each heartbeat.
type framePayload struct {
	Points     [][2]float64 `json:"points"`
	Heartbeats [][2]float64 `json:"heartbeats"`
	Samples    int          `json:"samples"`
	Draws      int          `json:"draws"`
}

func newFramePayload(f ppg.Frame, draws int) framePayload {
	n := frameLen(f)
	fp := framePayload{
		Points:     make([][2]float64, 0, n),
		Heartbeats: make([][2]float64, 0, len(f.Heartbeats)),
		Samples:    len(f.Values),
		Draws:      draws,
	}
	for i := 0; i < n; i++ {
		fp.Points = append(fp.Points, [2]float64{float64(f.Timestamps[i]), f.Values[i]})
	}
	for _, idx := range f.Heartbeats {
		if idx < 0 || idx >= n {
			continue
		}
		fp.Heartbeats = append(fp.Heartbeats, [2]float64{float64(f.Timestamps[idx]), f.Values[idx]})
	}
	return fp
}

func frameLen(f ppg.Frame) int {
	return min(len(f.Values), len(f.Timestamps))
}

func (v *LiveView) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	v.mu.RLock()
	fp := newFramePayload(v.frame, v.draws)
	v.mu.RUnlock()
	httputil.WriteJSONOK(w, fp)
}

func (v *LiveView) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if v.RequestSave() {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("save requested\n"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("save already pending\n"))
}

func (v *LiveView) chart(f ppg.Frame, draws int) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: v.title, Width: "100%", Height: "600px", AssetsHost: v.assetsHost, ChartID: liveChartID}),
		charts.WithTitleOpts(opts.Title{Title: v.title, Subtitle: fmt.Sprintf("samples=%d heartbeats=%d refresh=%d", len(f.Values), len(f.Heartbeats), draws)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "timestamp", NameLocation: "middle", NameGap: 25, Min: "dataMin", Max: "dataMax"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "value", Min: "dataMin", Max: "dataMax"}),
	)

	n := frameLen(f)
	data := make([]opts.LineData, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, opts.LineData{Value: []interface{}{f.Timestamps[i], f.Values[i]}})
	}
	line.AddSeries("ppg", data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	// the heartbeat series is always present so refreshes can address it
	beats := make([]opts.ScatterData, 0, len(f.Heartbeats))
	for _, idx := range f.Heartbeats {
		if idx < 0 || idx >= n {
			continue
		}
		beats = append(beats, opts.ScatterData{Value: []interface{}{f.Timestamps[idx], f.Values[idx]}})
	}
	scatter := charts.NewScatter()
	scatter.AddSeries("heartbeats", beats,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "red"}),
	)
	line.Overlap(scatter)

	line.AddJSFuncs(refreshScript(v.refresh))
	return line
}

const liveChartID = "ppg_live"

// refreshScript polls /frame and replaces both series in place. go-echarts
// strips newlines from injected functions and substitutes %MY_ECHARTS% with
// the chart instance.
func refreshScript(every time.Duration) string {
	return fmt.Sprintf(`setInterval(function () {
	fetch("frame", {cache: "no-store"})
		.then(function (r) { return r.json(); })
		.then(function (f) {
			%%MY_ECHARTS%%.setOption({
				title: {subtext: "samples=" + f.samples + " heartbeats=" + f.heartbeats.length + " refresh=" + f.draws},
				series: [{data: f.points}, {data: f.heartbeats}]
			});
		})
		.catch(function () {});
}, %d);`, every.Milliseconds())
}
