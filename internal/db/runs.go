package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one replay or live session.
type Run struct {
	RunID      string          `json:"run_id"`
	Source     string          `json:"source"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Config     json.RawMessage `json:"config"`
	Records    int             `json:"records"`
	Processed  int             `json:"processed"`
	FaultCount int             `json:"fault_count"`
	RMSE       *[4]float64     `json:"rmse,omitempty"`
}

// RunResult is written when a run finishes.
type RunResult struct {
	Records    int
	Processed  int
	FaultCount int
	RMSE       *[4]float64
}

// EstimateRow is one persisted filter output.
type EstimateRow struct {
	RunID           string      `json:"run_id"`
	Seq             int         `json:"seq"`
	Sensor          string      `json:"sensor"`
	TimestampMicros int64       `json:"timestamp_us"`
	State           [4]float64  `json:"state"`
	Covariance      [16]float64 `json:"covariance"`
	GroundTruth     *[4]float64 `json:"ground_truth,omitempty"`
}

// CreateRun inserts a new run and returns its generated ID. config is
// stored verbatim and may be nil.
func (db *DB) CreateRun(source string, config interface{}) (string, error) {
	cfgJSON := []byte("{}")
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			return "", fmt.Errorf("failed to encode run config: %w", err)
		}
		cfgJSON = b
	}

	runID := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO fusion_runs (run_id, source, started_at, config_json) VALUES (?, ?, ?, ?)`,
		runID, source, time.Now().UnixNano(), string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run with its completion time and results.
func (db *DB) FinishRun(runID string, res RunResult) error {
	var rmse [4]sql.NullFloat64
	if res.RMSE != nil {
		for i, v := range res.RMSE {
			rmse[i] = sql.NullFloat64{Float64: v, Valid: true}
		}
	}

	r, err := db.Exec(
		`UPDATE fusion_runs
		SET finished_at = ?, records = ?, processed = ?, fault_count = ?,
			rmse_px = ?, rmse_py = ?, rmse_vx = ?, rmse_vy = ?
		WHERE run_id = ?`,
		time.Now().UnixNano(), res.Records, res.Processed, res.FaultCount,
		rmse[0], rmse[1], rmse[2], rmse[3], runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const insertEstimateSQL = `INSERT INTO fusion_estimates (
	run_id, seq, sensor, timestamp_us, px, py, vx, vy, p_json,
	gt_px, gt_py, gt_vx, gt_vy
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertEstimate(ex execer, row EstimateRow) error {
	pJSON, err := json.Marshal(row.Covariance)
	if err != nil {
		return fmt.Errorf("failed to encode covariance: %w", err)
	}
	var gt [4]sql.NullFloat64
	if row.GroundTruth != nil {
		for i, v := range row.GroundTruth {
			gt[i] = sql.NullFloat64{Float64: v, Valid: true}
		}
	}
	_, err = ex.Exec(insertEstimateSQL,
		row.RunID, row.Seq, row.Sensor, row.TimestampMicros,
		row.State[0], row.State[1], row.State[2], row.State[3], string(pJSON),
		gt[0], gt[1], gt[2], gt[3],
	)
	return err
}

// RecordEstimate inserts a single estimate.
func (db *DB) RecordEstimate(row EstimateRow) error {
	if err := insertEstimate(db.DB, row); err != nil {
		return fmt.Errorf("failed to record estimate %d: %w", row.Seq, err)
	}
	return nil
}

// RecordEstimates inserts rows in a single transaction.
func (db *DB) RecordEstimates(rows []EstimateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := insertEstimate(tx, row); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record estimate %d: %w", row.Seq, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, source, started_at, finished_at, config_json,
	records, processed, fault_count, rmse_px, rmse_py, rmse_vx, rmse_vy`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
		cfg      string
		rmse     [4]sql.NullFloat64
	)
	if err := s.Scan(&run.RunID, &run.Source, &started, &finished, &cfg,
		&run.Records, &run.Processed, &run.FaultCount,
		&rmse[0], &rmse[1], &rmse[2], &rmse[3]); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	run.Config = json.RawMessage(cfg)
	if rmse[0].Valid {
		run.RMSE = &[4]float64{rmse[0].Float64, rmse[1].Float64, rmse[2].Float64, rmse[3].Float64}
	}
	return run, nil
}

// GetRun returns a single run.
func (db *DB) GetRun(runID string) (Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM fusion_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM fusion_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListEstimates returns a run's estimates in sequence order, starting after
// afterSeq (use -1 for the beginning). limit <= 0 returns all.
func (db *DB) ListEstimates(runID string, afterSeq, limit int) ([]EstimateRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT run_id, seq, sensor, timestamp_us, px, py, vx, vy, p_json,
			gt_px, gt_py, gt_vx, gt_vy
		FROM fusion_estimates
		WHERE run_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`,
		runID, afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EstimateRow{}
	for rows.Next() {
		var (
			e     EstimateRow
			pJSON string
			gt    [4]sql.NullFloat64
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Sensor, &e.TimestampMicros,
			&e.State[0], &e.State[1], &e.State[2], &e.State[3], &pJSON,
			&gt[0], &gt[1], &gt[2], &gt[3]); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pJSON), &e.Covariance); err != nil {
			return nil, fmt.Errorf("estimate %d: bad covariance: %w", e.Seq, err)
		}
		if gt[0].Valid {
			e.GroundTruth = &[4]float64{gt[0].Float64, gt[1].Float64, gt[2].Float64, gt[3].Float64}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its estimates.
func (db *DB) DeleteRun(runID string) error {
	r, err := db.Exec(`DELETE FROM fusion_runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
