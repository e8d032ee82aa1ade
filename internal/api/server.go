package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/headtrack/internal/camera"
	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/pointtracker"
	"github.com/banshee-data/headtrack/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultHistorySize is the number of published samples kept for charts.
const DefaultHistorySize = 600

// Tracker is the tracker surface the HTTP API drives.
type Tracker interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Reset()
	Center()
	Sample(now time.Time) pointtracker.Sample
	Diagnostics() pointtracker.Diagnostics
	Settings() config.Settings
	Apply(config.Settings)
	Preview() (*camera.Frame, []pointtracker.Point2D, bool)
}

type Server struct {
	ctx     context.Context
	tracker Tracker

	mu      sync.Mutex
	history []pointtracker.Sample
	next    int
	full    bool
}

// NewServer serves tracker. ctx bounds trackers started over HTTP.
func NewServer(ctx context.Context, tracker Tracker, historySize int) *Server {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Server{
		ctx:     ctx,
		tracker: tracker,
		history: make([]pointtracker.Sample, historySize),
	}
}

// Publish appends a polled sample to the chart history.
func (s *Server) Publish(sample pointtracker.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[s.next] = sample
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// History returns up to limit most recent samples, oldest first. A limit
// <= 0 returns the whole buffer.
func (s *Server) History(limit int) []pointtracker.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.history)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]pointtracker.Sample, limit)
	start := s.next - limit
	if start < 0 {
		start += len(s.history)
	}
	for i := range out {
		out[i] = s.history[(start+i)%len(s.history)]
	}
	return out
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pose", s.showPose)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/diagnostics", s.showDiagnostics)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/preview.png", s.showPreview)
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	})
	for name, action := range map[string]func() error{
		"start":  func() error { return s.tracker.Start(s.ctx) },
		"pause":  func() error { s.tracker.Pause(); return nil },
		"resume": func() error { s.tracker.Resume(); return nil },
		"reset":  func() error { s.tracker.Reset(); return nil },
		"center": func() error { s.tracker.Center(); return nil },
	} {
		mux.HandleFunc("/api/"+name, s.controlHandler(name, action))
	}
	mux.HandleFunc("/charts/pose", s.showPoseChart)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) showPose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Sample(time.Now()))
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.History(limit))
}

func (s *Server) showDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Diagnostics())
}

// handleSettings returns the applied settings on GET. PUT and POST merge a
// partial JSON object over them, validate and apply the result.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.tracker.Settings())
	case http.MethodPut, http.MethodPost:
		settings := s.tracker.Settings()
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&settings); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings: %v", err))
			return
		}
		if err := settings.Validate(); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.tracker.Apply(settings)
		writeJSON(w, http.StatusOK, settings)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) controlHandler(name string, action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := action(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pointtracker.ErrStopped) || errors.Is(err, pointtracker.ErrAlreadyStarted) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": name + " ok", "state": s.tracker.Diagnostics().State})
	}
}

// showPreview renders the last preview frame with crosshairs over the
// extracted points. Requires the preview setting.
func (s *Server) showPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	frame, points, ok := s.tracker.Preview()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no preview frame (enable video_widget)")
		return
	}
	pointtracker.DrawOverlay(frame.Image, points)
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, frame.Image); err != nil {
		monitoring.Logf("failed to encode preview: %v", err)
	}
}
