// Package replay drives a FusionEKF over a recorded measurement sequence
// and fans every estimate out to a set of sinks.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/evaluate"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
)

var logf = monitoring.Tagged("replay")

// Source yields records in order. *parse.Reader satisfies it.
type Source interface {
	Next() bool
	Record() parse.Record
	Err() error
}

// Estimator is the subset of *fusion.FusionEKF used by Run.
type Estimator interface {
	ProcessMeasurement(m fusion.Measurement) error
	Estimate() (fusion.Estimate, bool)
}

// Sink receives the estimate produced by each accepted record. seq counts
// accepted records from zero.
type Sink interface {
	Consume(seq int, rec parse.Record, est fusion.Estimate) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(seq int, rec parse.Record, est fusion.Estimate) error

func (f SinkFunc) Consume(seq int, rec parse.Record, est fusion.Estimate) error {
	return f(seq, rec, est)
}

// Options tunes a replay.
type Options struct {
	// StopOnFault aborts at the first rejected measurement instead of
	// logging and continuing.
	StopOnFault bool
}

// Summary describes a finished replay.
type Summary struct {
	Records      int              `json:"records"`
	Processed    int              `json:"processed"`
	Faults       int              `json:"faults"`
	FaultsByKind map[string]int   `json:"faults_by_kind,omitempty"`
	RMSE         *[4]float64      `json:"rmse,omitempty"` // nil without ground truth
	Duration     time.Duration    `json:"duration"`
	Last         *fusion.Estimate `json:"last,omitempty"`
}

// Run consumes src until it is exhausted, ctx is cancelled, or a sink
// fails. Rejected measurements are counted in the summary and skipped
// unless opts.StopOnFault is set.
func Run(ctx context.Context, src Source, est Estimator, opts Options, sinks ...Sink) (Summary, error) {
	start := time.Now()
	sum := Summary{FaultsByKind: make(map[string]int)}
	var acc evaluate.Accumulator

	finish := func(err error) (Summary, error) {
		sum.Duration = time.Since(start)
		if rmse, rerr := acc.RMSE(); rerr == nil {
			sum.RMSE = &rmse
		}
		if e, ok := est.Estimate(); ok {
			sum.Last = &e
		}
		if len(sum.FaultsByKind) == 0 {
			sum.FaultsByKind = nil
		}
		return sum, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if !src.Next() {
			break
		}
		rec := src.Record()
		sum.Records++

		if err := est.ProcessMeasurement(rec.Measurement); err != nil {
			sum.Faults++
			kind := "unknown"
			if fe, ok := fusion.AsFault(err); ok {
				kind = fe.Kind.String()
			}
			sum.FaultsByKind[kind]++
			if opts.StopOnFault {
				return finish(fmt.Errorf("record %d: %w", sum.Records, err))
			}
			logf("skipping record %d: %v", sum.Records, err)
			continue
		}

		e, ok := est.Estimate()
		if !ok {
			return finish(errors.New("estimator not initialised after accepted measurement"))
		}
		if rec.GroundTruth != nil {
			acc.Add(e.State, *rec.GroundTruth)
		}
		for _, s := range sinks {
			if err := s.Consume(sum.Processed, rec, e); err != nil {
				return finish(fmt.Errorf("sink: %w", err))
			}
		}
		sum.Processed++
	}

	return finish(src.Err())
}

// SliceSource replays an in-memory record slice.
type SliceSource struct {
	recs []parse.Record
	i    int
}

// NewSliceSource returns a Source over recs.
func NewSliceSource(recs []parse.Record) *SliceSource {
	return &SliceSource{recs: recs, i: -1}
}

func (s *SliceSource) Next() bool {
	if s.i+1 >= len(s.recs) {
		return false
	}
	s.i++
	return true
}

func (s *SliceSource) Record() parse.Record { return s.recs[s.i] }

func (s *SliceSource) Err() error { return nil }
