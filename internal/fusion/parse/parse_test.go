package parse

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Record
	}{
		{
			name: "laser without ground truth",
			line: "L 3.12 0.65 1477010443000000",
			want: Record{Measurement: fusion.Measurement{
				Sensor: fusion.Laser, Raw: []float64{3.12, 0.65}, TimestampMicros: 1477010443000000,
			}},
		},
		{
			name: "radar with ground truth and yaw",
			line: "R\t1.01\t0.43\t2.5\t1477010443050000\t0.86\t0.6\t5.2\t0.0\t0.005\t0.1",
			want: Record{
				Measurement: fusion.Measurement{
					Sensor: fusion.Radar, Raw: []float64{1.01, 0.43, 2.5}, TimestampMicros: 1477010443050000,
				},
				GroundTruth: &[4]float64{0.86, 0.6, 5.2, 0.0},
			},
		},
		{
			name: "lowercase code and scientific notation",
			line: "  l  -1.5e-01   2e0  10   1 2 3 4 ",
			want: Record{
				Measurement: fusion.Measurement{
					Sensor: fusion.Laser, Raw: []float64{-0.15, 2}, TimestampMicros: 10,
				},
				GroundTruth: &[4]float64{1, 2, 3, 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
				t.Errorf("ParseLine() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.want.GroundTruth != nil, got.HasGroundTruth())
		})
	}
}

func TestParseLineSkips(t *testing.T) {
	t.Parallel()
	for _, line := range []string{"", "   ", "\t", "# header", "  # indented comment"} {
		_, err := ParseLine(line)
		assert.True(t, errors.Is(err, ErrSkip), "line %q", line)
	}
}

func TestParseLineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		wantErr string
	}{
		{"unknown sensor", "X 1 2 3", "unknown sensor kind"},
		{"laser too short", "L 1 2", "needs 2 values and a timestamp"},
		{"radar too short", "R 1 2 3", "needs 3 values and a timestamp"},
		{"bad value", "L 1 abc 3", "laser value 1"},
		{"bad timestamp", "L 1 2 3.5", "timestamp"},
		{"partial ground truth", "L 1 2 3 4 5", "ground truth needs 4 values"},
		{"bad ground truth", "L 1 2 3 4 5 x 7", "ground truth value 2"},
		{"negative range", "R -1 0 0 10", "negative range"},
		{"non-finite", "L NaN 1 10", "not finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseLine(tt.line)
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrSkip))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReaderStreamsRecords(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# sensor log",
		"L 1 1 0",
		"",
		"R 2 0 0 100000 2 0 0 0",
		"L 1.1 1 200000",
	}, "\n")

	r := NewReader(strings.NewReader(input))
	var kinds []fusion.SensorKind
	var lines []int
	for r.Next() {
		kinds = append(kinds, r.Record().Measurement.Sensor)
		lines = append(lines, r.Line())
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []fusion.SensorKind{fusion.Laser, fusion.Radar, fusion.Laser}, kinds)
	assert.Equal(t, []int{2, 4, 5}, lines)
}

func TestReaderReportsLineNumber(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("L 1 1 0\n\nL oops 1 10\nL 2 2 20\n"))
	require.True(t, r.Next())
	assert.False(t, r.Next())
	assert.False(t, r.Next(), "reader stays stopped after an error")

	var le *LineError
	require.True(t, errors.As(r.Err(), &le))
	assert.Equal(t, 3, le.Line)
	assert.Contains(t, r.Err().Error(), "line 3:")
}

func TestReadAllFixture(t *testing.T) {
	t.Parallel()

	f, err := os.Open(filepath.Join("..", "..", "..", "testdata", "measurements.txt"))
	require.NoError(t, err)
	defer f.Close()

	recs, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, recs, 120)

	var laser, radar int
	prev := int64(-1)
	for _, rec := range recs {
		assert.True(t, rec.HasGroundTruth())
		assert.GreaterOrEqual(t, rec.Measurement.TimestampMicros, prev)
		prev = rec.Measurement.TimestampMicros
		switch rec.Measurement.Sensor {
		case fusion.Laser:
			laser++
		case fusion.Radar:
			radar++
		}
	}
	assert.Equal(t, 60, laser)
	assert.Equal(t, 60, radar)
}
