// Package parse reads the line-oriented measurement log format:
//
//	L px py timestamp [gt_px gt_py gt_vx gt_vy [extra...]]
//	R rho phi rhodot timestamp [gt_px gt_py gt_vx gt_vy [extra...]]
//
// Fields are separated by any run of spaces or tabs. Timestamps are integer
// microseconds. Blank lines and lines starting with '#' are ignored.
package parse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

// ErrSkip is returned by ParseLine for blank and comment lines.
var ErrSkip = errors.New("parse: no measurement on line")

// maxLineBytes bounds a single log line.
const maxLineBytes = 64 * 1024

// Record is one parsed line: the measurement and, when the log carries it,
// the ground-truth state (px, py, vx, vy) at the same instant.
type Record struct {
	Measurement fusion.Measurement
	GroundTruth *[4]float64
}

// HasGroundTruth reports whether the line carried a ground-truth state.
func (r Record) HasGroundTruth() bool { return r.GroundTruth != nil }

// ParseLine parses a single log line.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Record{}, ErrSkip
	}

	fields := strings.Fields(line)
	kind, err := fusion.ParseSensorKind(fields[0])
	if err != nil {
		return Record{}, err
	}

	n := kind.Dim()
	if len(fields) < n+2 {
		return Record{}, fmt.Errorf("%s line needs %d values and a timestamp, got %d fields", kind, n, len(fields)-1)
	}

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		if raw[i], err = strconv.ParseFloat(fields[1+i], 64); err != nil {
			return Record{}, fmt.Errorf("%s value %d: %w", kind, i, err)
		}
	}

	ts, err := strconv.ParseInt(fields[1+n], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}

	rec := Record{Measurement: fusion.Measurement{Sensor: kind, Raw: raw, TimestampMicros: ts}}

	rest := fields[2+n:]
	switch {
	case len(rest) == 0:
	case len(rest) < 4:
		return Record{}, fmt.Errorf("ground truth needs 4 values, got %d", len(rest))
	default:
		var gt [4]float64
		for i := range gt {
			if gt[i], err = strconv.ParseFloat(rest[i], 64); err != nil {
				return Record{}, fmt.Errorf("ground truth value %d: %w", i, err)
			}
		}
		rec.GroundTruth = &gt
	}

	if err := rec.Measurement.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LineError reports the 1-based line number of a parse failure.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Reader streams records from an io.Reader.
type Reader struct {
	sc   *bufio.Scanner
	line int
	rec  Record
	err  error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Reader{sc: sc}
}

// Next advances to the next record. It returns false at end of input or on
// the first error; Err distinguishes the two.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.sc.Scan() {
		r.line++
		rec, err := ParseLine(r.sc.Text())
		if errors.Is(err, ErrSkip) {
			continue
		}
		if err != nil {
			r.err = &LineError{Line: r.line, Err: err}
			return false
		}
		r.rec = rec
		return true
	}
	if err := r.sc.Err(); err != nil {
		r.err = fmt.Errorf("read measurements: %w", err)
	}
	return false
}

// Record returns the record read by the last successful Next.
func (r *Reader) Record() Record { return r.rec }

// Line returns the 1-based number of the last line consumed.
func (r *Reader) Line() int { return r.line }

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// ReadAll parses every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	pr := NewReader(r)
	var out []Record
	for pr.Next() {
		out = append(out, pr.Record())
	}
	return out, pr.Err()
}
