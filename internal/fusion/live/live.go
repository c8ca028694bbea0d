// Package live runs a single fusion filter over measurement lines arriving
// from a serial device.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/evaluate"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
	"github.com/banshee-data/sensorfusion/internal/fusion/replay"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
)

var logf = monitoring.Tagged("live")

// Stats counts what the pipeline has seen since it was created.
type Stats struct {
	Received     int            `json:"received"`
	Processed    int            `json:"processed"`
	Faults       int            `json:"faults"`
	BadLines     int            `json:"bad_lines"`
	FaultsByKind map[string]int `json:"faults_by_kind,omitempty"`
	RMSE         *[4]float64    `json:"rmse,omitempty"`
}

// Pipeline owns one FusionEKF. Every measurement goes through the filter
// and the sinks inside one critical section, so estimates reach the sinks
// in processing order.
type Pipeline struct {
	mu     sync.Mutex
	filter *fusion.FusionEKF
	sinks  []replay.Sink
	state  serialmux.DeviceState

	seq      int
	latest   fusion.Estimate
	hasEst   bool
	stats    Stats
	accuracy evaluate.Accumulator
}

// NewPipeline returns a pipeline feeding filter and then each sink.
func NewPipeline(filter *fusion.FusionEKF, sinks ...replay.Sink) *Pipeline {
	return &Pipeline{filter: filter, sinks: sinks}
}

// HandleMeasurement processes one record. Faulted measurements are logged,
// counted and skipped; only sink failures are returned.
func (p *Pipeline) HandleMeasurement(rec parse.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Received++
	if err := p.filter.ProcessMeasurement(rec.Measurement); err != nil {
		p.stats.Faults++
		kind := "unknown"
		if fe, ok := fusion.AsFault(err); ok {
			kind = fe.Kind.String()
		}
		if p.stats.FaultsByKind == nil {
			p.stats.FaultsByKind = make(map[string]int)
		}
		p.stats.FaultsByKind[kind]++
		logf("skipping %s measurement at %d: %v", rec.Measurement.Sensor, rec.Measurement.TimestampMicros, err)
		return nil
	}

	est, ok := p.filter.Estimate()
	if !ok {
		return nil
	}
	p.stats.Processed++
	p.latest, p.hasEst = est, true
	if rec.GroundTruth != nil {
		p.accuracy.Add(est.State, *rec.GroundTruth)
	}

	seq := p.seq
	p.seq++
	var errs []error
	for _, s := range p.sinks {
		if err := s.Consume(seq, rec, est); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleLine classifies and dispatches one raw device line.
func (p *Pipeline) HandleLine(line string) error {
	err := serialmux.HandleEvent(p, &p.state, line)
	if errors.Is(err, serialmux.ErrMalformedLine) {
		p.mu.Lock()
		p.stats.BadLines++
		p.mu.Unlock()
	}
	return err
}

// Run subscribes to mux and handles lines until ctx is done or the mux
// closes the subscription.
func (p *Pipeline) Run(ctx context.Context, mux serialmux.SerialMuxInterface) error {
	id, c := mux.Subscribe()
	defer mux.Unsubscribe(id)
	return p.Consume(ctx, c)
}

// Consume handles lines from an existing subscription until ctx is done or
// lines is closed.
func (p *Pipeline) Consume(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := p.HandleLine(line); err != nil {
				logf("error handling line %q: %v", line, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Latest returns the most recent estimate.
func (p *Pipeline) Latest() (fusion.Estimate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasEst
}

// Stats returns a snapshot of the counters, with RMSE once any record has
// carried ground truth.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	if st.FaultsByKind != nil {
		m := make(map[string]int, len(st.FaultsByKind))
		for k, v := range st.FaultsByKind {
			m[k] = v
		}
		st.FaultsByKind = m
	}
	if rmse, err := p.accuracy.RMSE(); err == nil {
		st.RMSE = &rmse
	}
	return st
}

// DeviceConfig returns the latest settings the device reported.
func (p *Pipeline) DeviceConfig() map[string]any {
	return p.state.Snapshot()
}

// Reset clears the filter and the latest estimate; counters are kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter.Reset()
	p.hasEst = false
	p.latest = fusion.Estimate{}
}
