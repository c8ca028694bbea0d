package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// SeriesSource supplies the samples rendered by ChartHandler.
type SeriesSource interface {
	Series() Series
}

// ChartHandler renders the recorded trajectory as an interactive HTML
// scatter chart. Query params:
//   - max_points (optional; default 5000) caps each series by stride
type ChartHandler struct {
	Source SeriesSource
	Title  string
}

func (h *ChartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxPoints := 5000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v >= 10 && v <= 100000 {
			maxPoints = v
		}
	}

	s := h.Source.Series()
	if len(s.Estimates) == 0 {
		http.Error(w, "no estimates recorded", http.StatusNotFound)
		return
	}

	title := h.Title
	if title == "" {
		title = "Fused trajectory"
	}

	minX, maxX, minY, maxY := bounds(s)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("estimates=%d laser=%d radar=%d", len(s.Estimates), len(s.Laser), len(s.Radar))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: minX, Max: maxX, Name: "px (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minY, Max: maxY, Name: "py (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, sr := range []struct {
		name string
		pts  []Point
		size int
	}{
		{"ground truth", s.GroundTruth, 2},
		{"laser", s.Laser, 4},
		{"radar", s.Radar, 4},
		{"estimate", s.Estimates, 3},
	} {
		if len(sr.pts) == 0 {
			continue
		}
		scatter.AddSeries(sr.name, scatterData(sr.pts, maxPoints), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: sr.size}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// scatterData downsamples pts by stride to at most maxPoints entries.
func scatterData(pts []Point, maxPoints int) []opts.ScatterData {
	stride := 1
	if len(pts) > maxPoints {
		stride = int(math.Ceil(float64(len(pts)) / float64(maxPoints)))
	}
	data := make([]opts.ScatterData, 0, len(pts)/stride+1)
	for i := 0; i < len(pts); i += stride {
		data = append(data, opts.ScatterData{Value: []interface{}{pts[i].X, pts[i].Y}})
	}
	return data
}

// bounds returns padded axis limits covering every series.
func bounds(s Series) (minX, maxX, minY, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, pts := range [][]Point{s.Estimates, s.Laser, s.Radar, s.GroundTruth} {
		for _, p := range pts {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		}
	}
	padX := (maxX - minX) * 0.05
	padY := (maxY - minY) * 0.05
	if padX == 0 {
		padX = 1
	}
	if padY == 0 {
		padY = 1
	}
	return math.Floor(minX - padX), math.Ceil(maxX + padX), math.Floor(minY - padY), math.Ceil(maxY + padY)
}
