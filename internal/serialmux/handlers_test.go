package serialmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
)

func TestClassifyLine(t *testing.T) {
	tests := map[string]string{
		"L 1 2 100":            EventTypeMeasurement,
		"R\t1\t0.5\t2\t200":    EventTypeMeasurement,
		"  L 1 2 100  ":        EventTypeMeasurement,
		"# comment":            EventTypeComment,
		`{"baud_rate":115200}`: EventTypeConfig,
		"LIDAR 1 2":            EventTypeUnknown,
		"L":                    EventTypeUnknown,
		"":                     EventTypeUnknown,
		"hello":                EventTypeUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, ClassifyLine(line), "line %q", line)
	}
}

func TestHandleEventMeasurement(t *testing.T) {
	var got []parse.Record
	h := MeasurementHandlerFunc(func(rec parse.Record) error {
		got = append(got, rec)
		return nil
	})

	require.NoError(t, HandleEvent(h, nil, "L 1.5 -2 100"))
	require.Len(t, got, 1)
	assert.Equal(t, fusion.Laser, got[0].Measurement.Sensor)
	assert.Equal(t, int64(100), got[0].Measurement.TimestampMicros)

	err := HandleEvent(h, nil, "L 1.5 100")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedLine)

	failing := MeasurementHandlerFunc(func(parse.Record) error { return errors.New("full") })
	err = HandleEvent(failing, nil, "L 1.5 -2 100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestHandleEventConfig(t *testing.T) {
	var state DeviceState
	h := MeasurementHandlerFunc(func(parse.Record) error {
		t.Fatal("config lines are not measurements")
		return nil
	})

	require.NoError(t, HandleEvent(h, &state, `{"rate_hz":20,"mode":"fused"}`))
	require.NoError(t, HandleEvent(h, &state, `{"rate_hz":10}`))
	assert.Equal(t, map[string]any{"rate_hz": float64(10), "mode": "fused"}, state.Snapshot())

	assert.Error(t, HandleEvent(h, &state, `{not json`))
	assert.NoError(t, HandleEvent(h, nil, `{"ignored":true}`))
	assert.NoError(t, HandleEvent(h, &state, "# comment"))
	assert.NoError(t, HandleEvent(h, &state, "garbage"))
}
