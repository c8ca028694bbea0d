package replay

import (
	"bufio"
	"io"
	"strconv"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
)

// TSVHeader names the columns written by TSVWriter.
var TSVHeader = []string{
	"est_px", "est_py", "est_vx", "est_vy",
	"meas_px", "meas_py",
	"gt_px", "gt_py", "gt_vx", "gt_vy",
}

// TSVWriter is a Sink writing one tab-separated row per estimate. Radar
// measurements are converted to Cartesian for the meas_* columns; the gt_*
// columns are left empty when the record has no ground truth.
type TSVWriter struct {
	w           *bufio.Writer
	wroteHeader bool
	buf         []byte
}

// NewTSVWriter wraps w. Call Flush when done.
func NewTSVWriter(w io.Writer) *TSVWriter {
	return &TSVWriter{w: bufio.NewWriter(w)}
}

func (t *TSVWriter) Consume(_ int, rec parse.Record, est fusion.Estimate) error {
	if !t.wroteHeader {
		if err := t.writeRow(TSVHeader); err != nil {
			return err
		}
		t.wroteHeader = true
	}

	b := t.buf[:0]
	for _, v := range est.State {
		b = appendField(b, v)
	}
	mx, my := rec.Measurement.Cartesian()
	b = appendField(b, mx)
	b = appendField(b, my)
	if rec.GroundTruth != nil {
		for _, v := range rec.GroundTruth {
			b = appendField(b, v)
		}
	} else {
		b = append(b, "\t\t\t\t"...)
	}
	b[len(b)-1] = '\n'
	t.buf = b
	_, err := t.w.Write(b)
	return err
}

// Flush writes any buffered rows.
func (t *TSVWriter) Flush() error { return t.w.Flush() }

func (t *TSVWriter) writeRow(cols []string) error {
	for i, c := range cols {
		if i > 0 {
			if err := t.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := t.w.WriteString(c); err != nil {
			return err
		}
	}
	return t.w.WriteByte('\n')
}

func appendField(b []byte, v float64) []byte {
	b = strconv.AppendFloat(b, v, 'f', 6, 64)
	return append(b, '\t')
}
