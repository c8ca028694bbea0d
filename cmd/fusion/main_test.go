package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
)

const fixture = "../../testdata/measurements.txt"

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 9.0, cfg.GetNoiseAX())

	cfg, err = loadTuning("../../config/tuning.defaults.json")
	require.NoError(t, err)
	assert.Equal(t, 0.0225, cfg.GetLaserNoisePX())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRunReplayRequiresInput(t *testing.T) {
	var out bytes.Buffer
	err := runReplay(context.Background(), nil, &out)
	assert.EqualError(t, err, "-input is required")
}

func TestRunReplayEndToEnd(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.tsv")
	dbPath := filepath.Join(dir, "runs.db")
	plotPath := filepath.Join(dir, "plot.png")

	var stdout bytes.Buffer
	err := runReplay(context.Background(), []string{
		"-input", fixture,
		"-output", outPath,
		"-db", dbPath,
		"-plot", plotPath,
	}, &stdout)
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "records: 120 processed: 120 faults: 0")
	assert.Contains(t, stdout.String(), "RMSE px=")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 121, "header plus one row per record")
	assert.True(t, strings.HasPrefix(lines[0], "est_px\t"))

	info, err := os.Stat(plotPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "replay:measurements.txt", runs[0].Source)
	assert.Equal(t, 120, runs[0].Processed)
	require.NotNil(t, runs[0].RMSE)

	rows, err := store.ListEstimates(runs[0].RunID, -1, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 120)
}

func TestRunReplayToStdout(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, runReplay(context.Background(), []string{"-input", fixture, "-output", "-"}, &stdout))
	assert.True(t, strings.HasPrefix(stdout.String(), "est_px\t"))
	assert.NotContains(t, stdout.String(), "records:")
}

func TestParseLiveFlags(t *testing.T) {
	o, err := parseLiveFlags([]string{"-dev", "-interval", "10ms", "-listen", "127.0.0.1:0"})
	require.NoError(t, err)
	assert.True(t, o.dev)
	assert.Equal(t, 10*time.Millisecond, o.interval)
	assert.Equal(t, serialmux.DefaultBaudRate, o.baud)

	_, err = parseLiveFlags([]string{"-listen", ""})
	assert.Error(t, err)
	_, err = parseLiveFlags([]string{"-dev", "-fixture", ""})
	assert.Error(t, err)
}

func TestOpenMeasurementMux(t *testing.T) {
	m, source, err := openMeasurementMux(liveOptions{port: ""})
	require.NoError(t, err)
	assert.Equal(t, "disabled", source)
	assert.IsType(t, &serialmux.DisabledSerialMux{}, m)

	m, source, err = openMeasurementMux(liveOptions{dev: true, fixture: fixture})
	require.NoError(t, err)
	assert.Equal(t, "fixture:"+fixture, source)
	require.NoError(t, m.Close())
}

func TestRunLiveDevMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "live.db")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var stdout bytes.Buffer
	err := runLive(ctx, []string{
		"-dev", "-fixture", fixture, "-interval", "1ms",
		"-listen", "127.0.0.1:0", "-db", dbPath,
	}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "recording run")

	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "live:fixture:"+fixture, runs[0].Source)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Positive(t, runs[0].Processed)
}

func TestRunMigrateStatus(t *testing.T) {
	var out bytes.Buffer
	dbPath := filepath.Join(t.TempDir(), "m.db")
	require.NoError(t, runMigrate([]string{"-db", dbPath, "up"}, &out))
	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", dbPath, "status"}, &out))
	assert.Contains(t, out.String(), "Current version: 2")
}
