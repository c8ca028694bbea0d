// Package monitor records estimator output for offline plots and a live
// HTML chart.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/parse"
)

// Point is one XY sample tagged with its timestamp.
type Point struct {
	TimestampMicros int64   `json:"timestamp_us"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

// Series is a snapshot of everything a TrajectoryPlotter has recorded.
type Series struct {
	Estimates   []Point `json:"estimates"`
	Predictions []Point `json:"predictions"`
	Laser       []Point `json:"laser"`
	Radar       []Point `json:"radar"`
	GroundTruth []Point `json:"ground_truth"`
	// Innovations holds the bearing-normalised residual norm per update.
	Innovations map[string][]Point `json:"innovations"`
}

// TrajectoryPlotter accumulates estimates, measurements and ground truth.
// It is a replay sink and a fusion.DebugCollector; maxPoints bounds each
// series, dropping the oldest samples first.
type TrajectoryPlotter struct {
	mu        sync.Mutex
	enabled   bool
	maxPoints int
	series    Series
}

// NewTrajectoryPlotter returns an enabled plotter. maxPoints <= 0 keeps
// every sample.
func NewTrajectoryPlotter(maxPoints int) *TrajectoryPlotter {
	return &TrajectoryPlotter{
		enabled:   true,
		maxPoints: maxPoints,
		series:    Series{Innovations: make(map[string][]Point)},
	}
}

// SetEnabled toggles recording.
func (tp *TrajectoryPlotter) SetEnabled(v bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = v
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TrajectoryPlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

func (tp *TrajectoryPlotter) push(s []Point, p Point) []Point {
	s = append(s, p)
	if tp.maxPoints > 0 && len(s) > tp.maxPoints {
		s = append(s[:0], s[len(s)-tp.maxPoints:]...)
	}
	return s
}

// Consume records one accepted measurement and the resulting estimate.
func (tp *TrajectoryPlotter) Consume(_ int, rec parse.Record, est fusion.Estimate) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.enabled {
		return nil
	}

	ts := rec.Measurement.TimestampMicros
	tp.series.Estimates = tp.push(tp.series.Estimates, Point{ts, est.State[0], est.State[1]})

	mx, my := rec.Measurement.Cartesian()
	switch rec.Measurement.Sensor {
	case fusion.Laser:
		tp.series.Laser = tp.push(tp.series.Laser, Point{ts, mx, my})
	case fusion.Radar:
		tp.series.Radar = tp.push(tp.series.Radar, Point{ts, mx, my})
	}

	if rec.GroundTruth != nil {
		tp.series.GroundTruth = tp.push(tp.series.GroundTruth, Point{ts, rec.GroundTruth[0], rec.GroundTruth[1]})
	}
	return nil
}

// RecordPrediction implements fusion.DebugCollector.
func (tp *TrajectoryPlotter) RecordPrediction(ts int64, x, y, _, _ float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.enabled {
		return
	}
	tp.series.Predictions = tp.push(tp.series.Predictions, Point{ts, x, y})
}

// RecordInnovation implements fusion.DebugCollector. The residual is stored
// as (timestamp, |y|).
func (tp *TrajectoryPlotter) RecordInnovation(ts int64, sensor fusion.SensorKind, residual []float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.enabled {
		return
	}
	var sq float64
	for _, v := range residual {
		sq += v * v
	}
	key := sensor.String()
	tp.series.Innovations[key] = tp.push(tp.series.Innovations[key], Point{ts, float64(ts) / 1e6, math.Sqrt(sq)})
}

// Series returns a deep copy of the recorded samples.
func (tp *TrajectoryPlotter) Series() Series {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	out := Series{
		Estimates:   append([]Point(nil), tp.series.Estimates...),
		Predictions: append([]Point(nil), tp.series.Predictions...),
		Laser:       append([]Point(nil), tp.series.Laser...),
		Radar:       append([]Point(nil), tp.series.Radar...),
		GroundTruth: append([]Point(nil), tp.series.GroundTruth...),
		Innovations: make(map[string][]Point, len(tp.series.Innovations)),
	}
	for k, v := range tp.series.Innovations {
		out.Innovations[k] = append([]Point(nil), v...)
	}
	return out
}

// Reset discards every sample.
func (tp *TrajectoryPlotter) Reset() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.series = Series{Innovations: make(map[string][]Point)}
}

var (
	estimateColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	truthColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	laserColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	radarColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// SaveTrajectory writes an XY plot of estimates, measurements and ground
// truth to path (format chosen by extension, e.g. .png or .svg).
func (tp *TrajectoryPlotter) SaveTrajectory(path string) error {
	s := tp.Series()
	if len(s.Estimates) == 0 {
		return fmt.Errorf("no estimates recorded")
	}

	p := plot.New()
	p.Title.Text = "Fused trajectory"
	p.X.Label.Text = "px (m)"
	p.Y.Label.Text = "py (m)"
	p.Add(plotter.NewGrid())

	if len(s.GroundTruth) > 0 {
		gt, err := plotter.NewLine(toXYs(s.GroundTruth))
		if err != nil {
			return err
		}
		gt.Color = truthColor
		gt.Width = vg.Points(1)
		gt.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(gt)
		p.Legend.Add("ground truth", gt)
	}

	for _, m := range []struct {
		label string
		pts   []Point
		c     color.Color
		shape draw.GlyphDrawer
	}{
		{"laser", s.Laser, laserColor, draw.CrossGlyph{}},
		{"radar", s.Radar, radarColor, draw.RingGlyph{}},
	} {
		if len(m.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(toXYs(m.pts))
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = m.c
		sc.GlyphStyle.Shape = m.shape
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add(m.label, sc)
	}

	est, err := plotter.NewLine(toXYs(s.Estimates))
	if err != nil {
		return err
	}
	est.Color = estimateColor
	est.Width = vg.Points(1.5)
	p.Add(est)
	p.Legend.Add("estimate", est)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// SaveInnovations writes the per-sensor innovation magnitude over time.
func (tp *TrajectoryPlotter) SaveInnovations(path string) error {
	s := tp.Series()
	if len(s.Innovations) == 0 {
		return fmt.Errorf("no innovations recorded")
	}

	p := plot.New()
	p.Title.Text = "Innovation magnitude"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "|y|"

	t0 := math.Inf(1)
	for _, pts := range s.Innovations {
		if len(pts) > 0 && pts[0].X < t0 {
			t0 = pts[0].X
		}
	}

	colors := map[string]color.Color{"laser": laserColor, "radar": radarColor}
	for _, key := range []string{"laser", "radar"} {
		pts := s.Innovations[key]
		if len(pts) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(pts))
		for i, pt := range pts {
			xys[i] = plotter.XY{X: pt.X - t0, Y: pt.Y}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		line.Color = colors[key]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(key, line)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save innovation plot: %w", err)
	}
	return nil
}

func toXYs(pts []Point) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}
