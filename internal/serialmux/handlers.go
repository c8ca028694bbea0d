package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
)

// ErrMalformedLine marks a measurement line that could not be parsed.
var ErrMalformedLine = errors.New("failed to parse measurement")

// MeasurementHandler receives parsed measurement lines.
type MeasurementHandler interface {
	HandleMeasurement(rec parse.Record) error
}

// MeasurementHandlerFunc adapts a function to MeasurementHandler.
type MeasurementHandlerFunc func(rec parse.Record) error

func (f MeasurementHandlerFunc) HandleMeasurement(rec parse.Record) error { return f(rec) }

// DeviceState holds the latest config values reported by the device.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Update merges a JSON object into the state.
func (s *DeviceState) Update(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	maps.Copy(s.values, values)
	return nil
}

// Snapshot returns a copy of the current values.
func (s *DeviceState) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// HandleEvent dispatches one device line. Measurement lines are parsed and
// handed to h; config objects update state (which may be nil). Comments
// and unknown lines are logged and ignored.
func HandleEvent(h MeasurementHandler, state *DeviceState, payload string) error {
	switch ClassifyLine(payload) {
	case EventTypeMeasurement:
		rec, err := parse.ParseLine(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedLine, err)
		}
		if err := h.HandleMeasurement(rec); err != nil {
			return fmt.Errorf("failed to handle measurement: %w", err)
		}
	case EventTypeConfig:
		if state == nil {
			return nil
		}
		if err := state.Update(payload); err != nil {
			return fmt.Errorf("failed to handle config response: %w", err)
		}
		monitoring.Logf("[serialmux] config line: %s", payload)
	case EventTypeComment:
	default:
		monitoring.Logf("[serialmux] unknown event type: %s", payload)
	}
	return nil
}
