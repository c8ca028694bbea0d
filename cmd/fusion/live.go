package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/sensorfusion/internal/api"
	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/live"
	"github.com/banshee-data/sensorfusion/internal/fusion/monitor"
	"github.com/banshee-data/sensorfusion/internal/fusion/replay"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
)

type liveOptions struct {
	port      string
	baud      int
	dev       bool
	fixture   string
	interval  time.Duration
	loop      bool
	listen    string
	dbPath    string
	config    string
	maxPoints int
}

func parseLiveFlags(args []string) (liveOptions, error) {
	var o liveOptions
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	fs.StringVar(&o.port, "port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode; empty disables the device)")
	fs.IntVar(&o.baud, "baud", serialmux.DefaultBaudRate, "Serial baud rate")
	fs.BoolVar(&o.dev, "dev", false, "Replay -fixture instead of opening a serial port")
	fs.StringVar(&o.fixture, "fixture", "testdata/measurements.txt", "Measurement log replayed in dev mode")
	fs.DurationVar(&o.interval, "interval", 50*time.Millisecond, "Delay between fixture lines in dev mode")
	fs.BoolVar(&o.loop, "loop", false, "Restart the fixture at EOF in dev mode")
	fs.StringVar(&o.listen, "listen", ":8080", "Listen address")
	fs.StringVar(&o.dbPath, "db", "", "Record estimates in this SQLite database")
	fs.StringVar(&o.config, "config", "", "Tuning config JSON (default: compiled defaults)")
	fs.IntVar(&o.maxPoints, "max-points", 20000, "Points kept per chart series")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.listen == "" {
		return o, errors.New("listen address is required")
	}
	if o.dev && o.fixture == "" {
		return o, errors.New("-fixture is required in dev mode")
	}
	return o, nil
}

func openMeasurementMux(o liveOptions) (serialmux.SerialMuxInterface, string, error) {
	switch {
	case o.dev:
		m, err := serialmux.NewFixtureSerialMux(o.fixture, serialmux.FixtureOptions{Interval: o.interval, Loop: o.loop})
		return m, "fixture:" + o.fixture, err
	case o.port == "":
		return serialmux.NewDisabledSerialMux(), "disabled", nil
	default:
		m, err := serialmux.NewRealSerialMux(o.port, serialmux.PortOptions{BaudRate: o.baud})
		return m, "serial:" + o.port, err
	}
}

func runLive(ctx context.Context, args []string, stdout io.Writer) error {
	o, err := parseLiveFlags(args)
	if err != nil {
		return err
	}

	tuning, err := loadTuning(o.config)
	if err != nil {
		return err
	}
	filter, err := fusion.NewFusionEKF(fusion.ConfigFromTuning(tuning))
	if err != nil {
		return err
	}

	measurements, source, err := openMeasurementMux(o)
	if err != nil {
		return fmt.Errorf("failed to open measurement source: %w", err)
	}
	closeMeasurements := sync.OnceValue(measurements.Close)
	defer closeMeasurements()

	plotter := monitor.NewTrajectoryPlotter(o.maxPoints)
	filter.DebugCollector = plotter
	sinks := []replay.Sink{plotter}

	var (
		store    *db.DB
		runs     api.RunStore
		recorder *db.RunRecorder
	)
	if o.dbPath != "" {
		store, err = db.NewDB(o.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		runs = store

		runID, err := store.CreateRun("live:"+source, tuning)
		if err != nil {
			return err
		}
		recorder = store.NewRunRecorder(runID, 64)
		sinks = append(sinks, recorder)
		fmt.Fprintf(stdout, "recording run %s to %s\n", runID, o.dbPath)
	}

	pipeline := live.NewPipeline(filter, sinks...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the monitor starts so no early line is missed.
	subID, lines := measurements.Subscribe()
	defer measurements.Unsubscribe(subID)

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := measurements.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Consume(ctx, lines); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pipeline stopped: %v", err)
		}
		log.Print("pipeline routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(measurements, pipeline, runs, &monitor.ChartHandler{Source: plotter, Title: "Fusion trajectory"}).ServeMux()
		measurements.AttachAdminRoutes(mux)
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    o.listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", o.listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				cancel()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	// Closing the mux unblocks a Monitor stuck in a port read.
	if err := closeMeasurements(); err != nil {
		log.Printf("failed to close measurement source: %v", err)
	}
	wg.Wait()

	if recorder != nil {
		if err := recorder.Flush(); err != nil {
			log.Printf("failed to flush estimates: %v", err)
		}
		st := pipeline.Stats()
		res := db.RunResult{Records: st.Received, Processed: st.Processed, FaultCount: st.Faults, RMSE: st.RMSE}
		if err := store.FinishRun(recorder.RunID(), res); err != nil {
			return err
		}
	}
	log.Printf("Graceful shutdown complete")
	return nil
}
