package plot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/ppg"
)

func TestLiveView_DrawCopiesFrame(t *testing.T) {
	v := NewLiveView("PPG live")
	f := ppg.Frame{Timestamps: []int64{1, 2}, Values: []float64{3, 4}}
	v.Draw(f)

	f.Values[0] = 99
	assert.Equal(t, []float64{3, 4}, v.Frame().Values)
}

func TestLiveView_RendersChart(t *testing.T) {
	v := NewLiveView("PPG live")
	v.Draw(sineFrame(30))

	rec := httptest.NewRecorder()
	v.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "PPG live")
	assert.Contains(t, body, "samples=30 heartbeats=3")
	assert.Contains(t, body, "echarts")
}

func TestLiveView_RendersBeforeFirstDraw(t *testing.T) {
	v := NewLiveView("PPG live")

	rec := httptest.NewRecorder()
	v.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "samples=0")
}

func TestLiveView_Routes(t *testing.T) {
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/missing", http.StatusNotFound},
		{http.MethodPost, "/", http.StatusMethodNotAllowed},
		{http.MethodGet, "/save", http.StatusMethodNotAllowed},
		{http.MethodPost, "/frame", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			v := NewLiveView("PPG live")
			rec := httptest.NewRecorder()
			v.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLiveView_SaveRequestsCoalesce(t *testing.T) {
	v := NewLiveView("PPG live")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		v.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/save", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	select {
	case <-v.SaveRequests():
	default:
		t.Fatal("expected a pending save request")
	}
	select {
	case <-v.SaveRequests():
		t.Fatal("extra requests should have been merged")
	default:
	}

	assert.True(t, v.RequestSave())
	assert.False(t, v.RequestSave())
}

func TestLiveView_PageRefreshesItself(t *testing.T) {
	v := NewLiveView("PPG live")
	v.SetRefreshInterval(250 * time.Millisecond)
	v.SetAssetsHost("http://127.0.0.1:9/assets/")

	rec := httptest.NewRecorder()
	v.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="ppg_live"`)
	assert.Contains(t, body, `fetch("frame"`)
	assert.Contains(t, body, "goecharts_ppg_live.setOption(")
	assert.Contains(t, body, "}, 250);")
	assert.Contains(t, body, "http://127.0.0.1:9/assets/echarts.min.js")
	assert.NotContains(t, body, "%MY_ECHARTS%")
}

func TestLiveView_SetRefreshIntervalIgnoresNonPositive(t *testing.T) {
	v := NewLiveView("PPG live")
	v.SetRefreshInterval(0)
	v.SetRefreshInterval(-time.Second)
	assert.Equal(t, DefaultRefreshInterval, v.refresh)
}

func TestLiveView_FrameFollowsDraws(t *testing.T) {
	v := NewLiveView("PPG live")

	get := func() framePayload {
		t.Helper()
		rec := httptest.NewRecorder()
		v.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var fp framePayload
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fp))
		return fp
	}

	empty := get()
	assert.Zero(t, empty.Samples)
	assert.Zero(t, empty.Draws)
	assert.Empty(t, empty.Points)

	v.Draw(ppg.Frame{Timestamps: []int64{100, 130, 160}, Values: []float64{1, 5, 2}, Heartbeats: []int{1, 7}})
	first := get()
	assert.Equal(t, 3, first.Samples)
	assert.Equal(t, 1, first.Draws)
	assert.Equal(t, [][2]float64{{100, 1}, {130, 5}, {160, 2}}, first.Points)
	assert.Equal(t, [][2]float64{{130, 5}}, first.Heartbeats, "out of range beats are skipped")

	v.Draw(sineFrame(30))
	second := get()
	assert.Equal(t, 30, second.Samples)
	assert.Equal(t, 2, second.Draws)
	assert.Len(t, second.Heartbeats, 3)
}
