package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/monitor"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
	"github.com/banshee-data/sensorfusion/internal/fusion/replay"
)

func runReplay(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	input := fs.String("input", "", "Measurement log to replay (required)")
	configPath := fs.String("config", "", "Tuning config JSON (default: compiled defaults)")
	output := fs.String("output", "", "Write tab-separated estimates to FILE ('-' for stdout)")
	dbPath := fs.String("db", "", "Record the run in this SQLite database")
	plotPath := fs.String("plot", "", "Save a trajectory PNG to FILE")
	innovPath := fs.String("innovations", "", "Save an innovation magnitude PNG to FILE")
	stopOnFault := fs.Bool("stop-on-fault", false, "Abort at the first rejected measurement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return errors.New("-input is required")
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	filter, err := fusion.NewFusionEKF(fusion.ConfigFromTuning(tuning))
	if err != nil {
		return err
	}

	f, err := os.Open(*input)
	if err != nil {
		return err
	}
	defer f.Close()

	var sinks []replay.Sink

	var tsv *replay.TSVWriter
	if *output != "" {
		var w io.Writer = stdout
		if *output != "-" {
			out, err := os.Create(*output)
			if err != nil {
				return err
			}
			defer out.Close()
			w = out
		}
		tsv = replay.NewTSVWriter(w)
		sinks = append(sinks, tsv)
	}

	var plotter *monitor.TrajectoryPlotter
	if *plotPath != "" || *innovPath != "" {
		plotter = monitor.NewTrajectoryPlotter(0)
		filter.DebugCollector = plotter
		sinks = append(sinks, plotter)
	}

	var (
		store    *db.DB
		recorder *db.RunRecorder
	)
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		runID, err := store.CreateRun("replay:"+filepath.Base(*input), tuning)
		if err != nil {
			return err
		}
		recorder = store.NewRunRecorder(runID, 0)
		sinks = append(sinks, recorder)
	}

	sum, runErr := replay.Run(ctx, parse.NewReader(f), filter, replay.Options{StopOnFault: *stopOnFault}, sinks...)

	if tsv != nil {
		if err := tsv.Flush(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if recorder != nil {
		if err := recorder.Flush(); err != nil && runErr == nil {
			runErr = err
		}
		res := db.RunResult{Records: sum.Records, Processed: sum.Processed, FaultCount: sum.Faults, RMSE: sum.RMSE}
		if err := store.FinishRun(recorder.RunID(), res); err != nil && runErr == nil {
			runErr = err
		}
		fmt.Fprintf(stdout, "run %s stored in %s\n", recorder.RunID(), *dbPath)
	}
	if plotter != nil {
		if *plotPath != "" {
			if err := plotter.SaveTrajectory(*plotPath); err != nil && runErr == nil {
				runErr = err
			}
		}
		if *innovPath != "" {
			if err := plotter.SaveInnovations(*innovPath); err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	if *output != "-" {
		printSummary(stdout, sum)
	}
	return runErr
}

func printSummary(w io.Writer, sum replay.Summary) {
	fmt.Fprintf(w, "records: %d processed: %d faults: %d (%s)\n", sum.Records, sum.Processed, sum.Faults, sum.Duration)
	for kind, n := range sum.FaultsByKind {
		fmt.Fprintf(w, "  %s: %d\n", kind, n)
	}
	if sum.RMSE != nil {
		fmt.Fprintf(w, "RMSE px=%.4f py=%.4f vx=%.4f vy=%.4f\n", sum.RMSE[0], sum.RMSE[1], sum.RMSE[2], sum.RMSE[3])
	}
}
