// Command fusion runs the laser/radar EKF over recorded logs or a live
// serial stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sensorfusion/internal/config"
	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/version"
)

const defaultDBFile = "fusion.db"

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "replay":
		err = runReplay(ctx, args, os.Stdout)
	case "live":
		err = runLive(ctx, args, os.Stdout)
	case "migrate":
		err = runMigrate(args, os.Stdout)
	case "version":
		fmt.Printf("fusion version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`fusion - laser/radar extended Kalman filter

Usage: fusion <command> [options]

Commands:
  replay     Run the filter over a measurement log
  live       Run the filter over a serial measurement stream and serve the API
  migrate    Manage the run database schema
  version    Show fusion version
  help       Show this help message

Run 'fusion <command> -h' for command options.`)
}

// loadTuning returns the compiled defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBFile, "SQLite database file")
	fs.Usage = func() { db.PrintMigrateHelp(out) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}
