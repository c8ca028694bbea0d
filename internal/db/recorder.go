package db

import (
	"sync"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
)

const defaultRecorderBatch = 256

// RunRecorder persists estimates for one run. It batches inserts; call
// Flush before FinishRun.
type RunRecorder struct {
	db    *DB
	runID string
	batch int

	mu      sync.Mutex
	pending []EstimateRow
}

// NewRunRecorder returns a recorder writing to runID. batch <= 0 selects
// the default batch size.
func (db *DB) NewRunRecorder(runID string, batch int) *RunRecorder {
	if batch <= 0 {
		batch = defaultRecorderBatch
	}
	return &RunRecorder{db: db, runID: runID, batch: batch}
}

// RunID returns the run being recorded.
func (r *RunRecorder) RunID() string { return r.runID }

// Consume queues one estimate, flushing when the batch is full.
func (r *RunRecorder) Consume(seq int, rec parse.Record, est fusion.Estimate) error {
	row := EstimateRow{
		RunID:           r.runID,
		Seq:             seq,
		Sensor:          rec.Measurement.Sensor.String(),
		TimestampMicros: est.TimestampMicros,
		State:           est.State,
		Covariance:      est.Covariance,
	}
	if rec.GroundTruth != nil {
		gt := *rec.GroundTruth
		row.GroundTruth = &gt
	}

	r.mu.Lock()
	r.pending = append(r.pending, row)
	full := len(r.pending) >= r.batch
	r.mu.Unlock()

	if full {
		return r.Flush()
	}
	return nil
}

// Flush writes every queued estimate.
func (r *RunRecorder) Flush() error {
	r.mu.Lock()
	rows := r.pending
	r.pending = nil
	r.mu.Unlock()
	return r.db.RecordEstimates(rows)
}
