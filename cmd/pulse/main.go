package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/plot"
	"github.com/banshee-data/pulse.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	loadPath    = flag.String("load", "", "Process a saved recording, write its plot and exit")
	plotPath    = flag.String("plot", "", "PNG output path (default: next to the recording, or none when streaming)")
	port        = flag.String("port", "", "Serial port of the BLE bridge (overrides serial_port)")
	devFixture  = flag.String("dev", "", "Replay a saved recording instead of opening the serial port")
	listen      = flag.String("listen", ":8080", "Listen address for the live view and /debug/ routes; empty disables")
	dbPath      = flag.String("db", "", "SQLite file to record detection runs in; empty disables")
	savePath    = flag.String("save", "PPGRaw1.csv", "Where live-view save requests write the buffer")
	assetsHost  = flag.String("assets", plot.DefaultAssetsHost, "Where the live view loads echarts from")
	address     = flag.String("address", "", "Peripheral address to connect to (overrides peripheral_address)")
	configure   = flag.Bool("configure", false, "Put the bridge in central mode before connecting")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig returns the built-in defaults, or the file at path when set,
// with command line overrides applied.
func loadConfig(path string) (*config.PPGConfig, error) {
	cfg := config.DefaultPPGConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if *port != "" {
		cfg.SerialPort = port
	}
	if *address != "" {
		cfg.PeripheralAddress = address
	}
	if *configure {
		cfg.ConfigureModule = configure
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var store *db.DB
	if *dbPath != "" {
		if store, err = db.NewDB(*dbPath); err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
		log.Printf("recording detection runs in %s", store.Path())
	}

	if *loadPath != "" {
		if _, err := runOffline(cfg, *loadPath, *plotPath, store); err != nil {
			log.Fatalf("failed to process %s: %v", *loadPath, err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runOnline(ctx, cfg, onlineOptions{
		Fixture:    *devFixture,
		Listen:     *listen,
		SavePath:   *savePath,
		PlotPath:   *plotPath,
		AssetsHost: *assetsHost,
		Store:      store,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("pulse exited with error: %v", err)
		os.Exit(1)
	}
}
