package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBMigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	st, err := db.GetMigrationStatus(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.LatestVersion)
	assert.Equal(t, st.LatestVersion, st.CurrentVersion)
	assert.False(t, st.Dirty)
	assert.True(t, st.TableExists)
	assert.False(t, st.NeedsMigration())

	for _, table := range []string{"fusion_runs", "fusion_estimates"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestNewDBInMemory(t *testing.T) {
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateRun("memory", nil)
	assert.NoError(t, err)
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)

	cfg := map[string]float64{"noise_ax": 9}
	runID, err := db.CreateRun("testdata/measurements.txt", cfg)
	require.NoError(t, err)
	require.Len(t, runID, 36)

	run, err := db.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "testdata/measurements.txt", run.Source)
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.RMSE)
	assert.JSONEq(t, `{"noise_ax":9}`, string(run.Config))

	rmse := [4]float64{0.1, 0.2, 0.3, 0.4}
	require.NoError(t, db.FinishRun(runID, RunResult{Records: 10, Processed: 9, FaultCount: 1, RMSE: &rmse}))

	run, err = db.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	assert.Equal(t, 10, run.Records)
	assert.Equal(t, 9, run.Processed)
	assert.Equal(t, 1, run.FaultCount)
	require.NotNil(t, run.RMSE)
	assert.Equal(t, rmse, *run.RMSE)

	// Runs encode cleanly for the API.
	_, err = json.Marshal(run)
	assert.NoError(t, err)
}

func TestRunNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetRun("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, errors.Is(db.FinishRun("missing", RunResult{}), ErrRunNotFound))
	assert.True(t, errors.Is(db.DeleteRun("missing"), ErrRunNotFound))
}

func TestListRunsNewestFirst(t *testing.T) {
	db := newTestDB(t)

	var ids []string
	for _, src := range []string{"a", "b", "c"} {
		id, err := db.CreateRun(src, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[0], runs[2].RunID)

	runs, err = db.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestEstimatesRoundTrip(t *testing.T) {
	db := newTestDB(t)
	runID, err := db.CreateRun("unit", nil)
	require.NoError(t, err)

	gt := [4]float64{1, 2, 3, 4}
	row := EstimateRow{
		RunID:           runID,
		Seq:             0,
		Sensor:          "laser",
		TimestampMicros: 1477010443000000,
		State:           [4]float64{1.1, 2.1, 2.9, 4.2},
		Covariance:      [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1000, 0, 0, 0, 0, 1000},
		GroundTruth:     &gt,
	}
	require.NoError(t, db.RecordEstimate(row))

	second := row
	second.Seq = 1
	second.Sensor = "radar"
	second.GroundTruth = nil
	require.NoError(t, db.RecordEstimates([]EstimateRow{second}))

	got, err := db.ListEstimates(runID, -1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, row, got[0])
	assert.Nil(t, got[1].GroundTruth)
	assert.Equal(t, "radar", got[1].Sensor)

	after, err := db.ListEstimates(runID, 0, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].Seq)

	// Duplicate sequence numbers are rejected.
	assert.Error(t, db.RecordEstimate(row))
	// Estimates must belong to an existing run.
	orphan := row
	orphan.RunID = "nope"
	assert.Error(t, db.RecordEstimate(orphan))

	require.NoError(t, db.DeleteRun(runID))
	got, err = db.ListEstimates(runID, -1, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "estimates cascade with their run")
}

func TestRunRecorderBatches(t *testing.T) {
	db := newTestDB(t)
	runID, err := db.CreateRun("recorder", nil)
	require.NoError(t, err)

	rec := db.NewRunRecorder(runID, 2)
	assert.Equal(t, runID, rec.RunID())

	m := parse.Record{Measurement: fusion.Measurement{Sensor: fusion.Radar, Raw: []float64{1, 0, 0}}}
	for i := 0; i < 3; i++ {
		est := fusion.Estimate{TimestampMicros: int64(i * 1000), State: [4]float64{float64(i), 0, 0, 0}}
		require.NoError(t, rec.Consume(i, m, est))
	}

	got, err := db.ListEstimates(runID, -1, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2, "third row is still buffered")

	require.NoError(t, rec.Flush())
	got, err = db.ListEstimates(runID, -1, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "radar", got[2].Sensor)
	assert.Equal(t, int64(2000), got[2].TimestampMicros)

	require.NoError(t, rec.Flush(), "empty flush is a no-op")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/tailsql/", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// Registered routes may be refused for non-local callers, but never 404.
		assert.NotEqual(t, http.StatusNotFound, w.Code, "route %s", path)
	}
}

func TestBackupHandler(t *testing.T) {
	db := newTestDB(t)
	_, err := db.CreateRun("backup", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	db.handleBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=backup-")

	gz, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3")), "backup should be a sqlite file")
}
