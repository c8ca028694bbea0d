// Package api serves the fusion HTTP API: the current estimate, stored runs
// and the trajectory chart.
package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/fusion/live"
	"github.com/banshee-data/sensorfusion/internal/httputil"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// EstimateSource is the live filter the API reports on.
type EstimateSource interface {
	Latest() (fusion.Estimate, bool)
	Stats() live.Stats
	DeviceConfig() map[string]any
	Reset()
}

// RunStore is the subset of the run store the API reads.
type RunStore interface {
	ListRuns(limit int) ([]db.Run, error)
	GetRun(runID string) (db.Run, error)
	ListEstimates(runID string, afterSeq, limit int) ([]db.EstimateRow, error)
	DeleteRun(runID string) error
}

type Server struct {
	m     serialmux.SerialMuxInterface
	est   EstimateSource
	runs  RunStore
	chart http.Handler
}

// NewServer builds the API. runs and chart may be nil, in which case their
// routes report 404.
func NewServer(m serialmux.SerialMuxInterface, est EstimateSource, runs RunStore, chart http.Handler) *Server {
	return &Server{
		m:     m,
		est:   est,
		runs:  runs,
		chart: chart,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", s.showEstimate)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/device", s.showDevice)
	mux.HandleFunc("/api/reset", s.resetFilter)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/", s.handleRun)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/command", s.sendCommandHandler)
	return mux
}

// EstimateResponse is the JSON form of the current estimate.
type EstimateResponse struct {
	fusion.Estimate
	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
}

func (s *Server) showEstimate(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	est, ok := s.est.Latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no estimate yet")
		return
	}
	httputil.WriteJSONOK(w, EstimateResponse{Estimate: est, Speed: est.Speed(), Heading: est.Heading()})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.est.Stats())
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.est.DeviceConfig()
	if cfg == nil {
		cfg = map[string]any{}
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) resetFilter(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s.est.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	_, _ = io.WriteString(w, "Command sent successfully")
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.runs == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "run store disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// handleRun serves /api/runs/{id} and /api/runs/{id}/estimates.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "run store disabled")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/"), "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "estimates") {
		httputil.WriteJSONError(w, http.StatusNotFound, "not found")
		return
	}
	runID := parts[0]

	if len(parts) == 2 {
		s.listEstimates(w, r, runID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := s.runs.GetRun(runID)
		if err != nil {
			s.writeRunError(w, err)
			return
		}
		httputil.WriteJSONOK(w, run)
	case http.MethodDelete:
		if err := s.runs.DeleteRun(runID); err != nil {
			s.writeRunError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request, runID string) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	after, err := httputil.QueryInt(r, "after", -1, -1)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 1000, 1)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.runs.GetRun(runID); err != nil {
		s.writeRunError(w, err)
		return
	}
	rows, err := s.runs.ListEstimates(runID, after, limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list estimates: %v", err))
		return
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if s.chart == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "chart disabled")
		return
	}
	s.chart.ServeHTTP(w, r)
}
