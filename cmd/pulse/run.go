package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/plot"
	"github.com/banshee-data/pulse.report/internal/ppg"
	"github.com/banshee-data/pulse.report/internal/security"
	"github.com/banshee-data/pulse.report/internal/serialmux"
)

// replayPreamble stands in for the module's connection report ahead of the
// first replayed sample.
const replayPreamble = "OK+CONN"

// runOffline loads a recording, runs detection once and writes the plot.
func runOffline(cfg *config.PPGConfig, recording, pngPath string, store *db.DB) (*ppg.Result, error) {
	if pngPath == "" {
		pngPath = security.PlotPathFor(recording)
	}
	if err := security.ValidateOutputPath(pngPath, filepath.Dir(recording)); err != nil {
		return nil, err
	}

	opts := []ppg.Option{ppg.WithExporter(plot.NewPNGExporter(pngPath, filepath.Base(recording)))}
	if store != nil {
		opts = append(opts, ppg.WithRecorder(store))
	}
	p, err := ppg.NewPipeline(cfg.PipelineConfig(), opts...)
	if err != nil {
		return nil, err
	}

	if err := p.Load(recording); err != nil {
		return nil, err
	}
	res, err := p.Process()
	if err != nil {
		return res, err
	}
	log.Printf("%s: %d heartbeats in %d windows, plot written to %s",
		recording, len(res.Heartbeats), res.Windows, pngPath)
	return res, nil
}

type onlineOptions struct {
	// Fixture replays a saved recording in place of the serial port.
	Fixture  string
	Listen   string
	SavePath string
	// PlotPath, when set, receives a PNG of the final detection pass.
	PlotPath string
	// AssetsHost overrides where the live view loads echarts from.
	AssetsHost string
	Store      *db.DB
}

// openTransport opens the serial bridge, or a replay of fixture when set.
func openTransport(cfg *config.PPGConfig, fixture string) (serialmux.SerialMuxInterface, error) {
	opts := serialmux.DefaultOptions()
	opts.Delimiter = cfg.GetEndOfLine()
	opts.SkipFirst = cfg.GetSkipFirstRecord()

	if fixture == "" {
		return serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}, opts)
	}

	f, err := os.Open(fixture)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()
	records, err := serialmux.LoadReplayRecords(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", fixture, err)
	}
	period := time.Duration(float64(time.Second) / cfg.GetSampleRate())
	return serialmux.NewReplaySerialMux(records, serialmux.ReplayConfig{
		Period:   period,
		Preamble: replayPreamble,
	}, opts), nil
}

// runOnline streams samples from the bridge into the pipeline until ctx is
// cancelled or the stream ends, then runs detection once over the buffer.
func runOnline(ctx context.Context, cfg *config.PPGConfig, o onlineOptions) error {
	if err := security.ValidateOutputPath(o.SavePath); err != nil {
		return fmt.Errorf("invalid save path: %w", err)
	}
	if o.PlotPath != "" {
		if err := security.ValidateOutputPath(o.PlotPath); err != nil {
			return fmt.Errorf("invalid plot path: %w", err)
		}
	}

	mux, err := openTransport(cfg, o.Fixture)
	if err != nil {
		return err
	}
	defer mux.Close()

	if addr := cfg.GetPeripheralAddress(); addr != "" || cfg.GetConfigureModule() {
		if err := mux.Connect(addr, cfg.GetConfigureModule()); err != nil {
			return fmt.Errorf("failed to connect to peripheral: %w", err)
		}
	}

	live := plot.NewLiveView("PPG")
	live.SetRefreshInterval(cfg.GetLiveMinInterval())
	if o.AssetsHost != "" {
		live.SetAssetsHost(o.AssetsHost)
	}
	opts := []ppg.Option{ppg.WithLiveView(live)}
	if o.PlotPath != "" {
		opts = append(opts, ppg.WithExporter(plot.NewPNGExporter(o.PlotPath, "PPG")))
	}
	if o.Store != nil {
		opts = append(opts, ppg.WithRecorder(o.Store))
	}
	p, err := ppg.NewPipeline(cfg.PipelineConfig(), opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var server *http.Server
	if o.Listen != "" {
		httpMux := http.NewServeMux()
		httpMux.Handle("/", live)
		mux.AttachAdminRoutes(httpMux)
		if o.Store != nil {
			if err := o.Store.AttachAdminRoutes(httpMux); err != nil {
				return err
			}
		}
		server = &http.Server{Addr: o.Listen, Handler: httpMux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				cancel()
			}
		}()
		log.Printf("live view on http://%s/", o.Listen)
	}

	// subscribe before Monitor starts so no record is missed
	id, records := mux.Subscribe()
	defer mux.Unsubscribe(id)

	var (
		wg         sync.WaitGroup
		monitorErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitorErr = err
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, p, records, live.SaveRequests(), o.SavePath)
		log.Print("ingest routine terminated")
	}()

	wg.Wait()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down server: %v", err)
		}
		shutdownCancel()
	}

	res, err := p.Process()
	if err != nil {
		return err
	}
	log.Printf("final pass: %d heartbeats in %d windows over %d samples",
		len(res.Heartbeats), res.Windows, p.Buffer().Len())
	return monitorErr
}

// consume is the single goroutine driving the pipeline: records, save
// requests and cancellation are all handled here.
func consume(ctx context.Context, p *ppg.Pipeline, records <-chan string, saves <-chan struct{}, savePath string) {
	for {
		select {
		case <-ctx.Done():
			drain(p, records)
			return
		case payload, ok := <-records:
			if !ok {
				return
			}
			handleRecord(p, payload)
		case <-saves:
			if err := p.OnUserSaveRequest(savePath); err != nil {
				log.Printf("failed to save recording: %v", err)
			}
		}
	}
}

// drain ingests records already buffered for this subscriber.
func drain(p *ppg.Pipeline, records <-chan string) {
	for {
		select {
		case payload, ok := <-records:
			if !ok {
				return
			}
			handleRecord(p, payload)
		default:
			return
		}
	}
}

func handleRecord(p *ppg.Pipeline, payload string) {
	if serialmux.ClassifyPayload(payload) == serialmux.EventTypeStatus {
		log.Printf("bridge: %s", payload)
		return
	}
	// anything else is a sample; malformed ones are logged and counted by the pipeline
	_ = p.Append(payload)
}
