package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/headtrack/internal/camera"
	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/pointtracker"
	"github.com/banshee-data/headtrack/internal/version"
)

type fakeTracker struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	settings config.Settings
	sample   pointtracker.Sample
	preview  *camera.Frame
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{settings: config.DefaultSettings()}
}

func (f *fakeTracker) add(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeTracker) Start(ctx context.Context) error {
	f.add("start")
	return f.startErr
}
func (f *fakeTracker) Pause()  { f.add("pause") }
func (f *fakeTracker) Resume() { f.add("resume") }
func (f *fakeTracker) Reset()  { f.add("reset") }
func (f *fakeTracker) Center() { f.add("center") }

func (f *fakeTracker) Sample(now time.Time) pointtracker.Sample {
	s := f.sample
	s.Time = now
	return s
}

func (f *fakeTracker) Diagnostics() pointtracker.Diagnostics {
	return pointtracker.Diagnostics{State: "running", Valid: f.sample.Valid}
}

func (f *fakeTracker) Settings() config.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeTracker) Apply(s config.Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

func (f *fakeTracker) Preview() (*camera.Frame, []pointtracker.Point2D, bool) {
	if f.preview == nil {
		return nil, nil, false
	}
	return f.preview.Clone(), []pointtracker.Point2D{{X: 0, Y: 0}}, true
}

func newTestServer(t *testing.T) (*Server, *fakeTracker, http.Handler) {
	t.Helper()
	tr := newFakeTracker()
	s := NewServer(context.Background(), tr, 4)
	return s, tr, s.ServeMux()
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHistoryRing(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Empty(t, s.History(0))

	base := time.Unix(1000, 0)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Publish(pointtracker.Sample{Time: base.Add(time.Duration(i) * time.Second), Pose: pointtracker.HeadPose{Yaw: float64(i)}}))
	}

	all := s.History(0)
	require.Len(t, all, 4)
	for i, sample := range all {
		assert.Equal(t, float64(i+2), sample.Pose.Yaw, "oldest first after wrap")
	}

	last := s.History(2)
	require.Len(t, last, 2)
	assert.Equal(t, 4.0, last[0].Pose.Yaw)
	assert.Equal(t, 5.0, last[1].Pose.Yaw)

	assert.Len(t, s.History(10), 4)
}

func TestHistoryBeforeWrap(t *testing.T) {
	s, _, _ := newTestServer(t)
	require.NoError(t, s.Publish(pointtracker.Sample{Pose: pointtracker.HeadPose{Yaw: 1}}))
	require.NoError(t, s.Publish(pointtracker.Sample{Pose: pointtracker.HeadPose{Yaw: 2}}))

	got := s.History(0)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Pose.Yaw)
	assert.Equal(t, 2.0, got[1].Pose.Yaw)
}

func TestShowPose(t *testing.T) {
	_, tr, h := newTestServer(t)
	tr.sample = pointtracker.Sample{Valid: true, Pose: pointtracker.HeadPose{Yaw: 10, Z: 30}}

	w := do(t, h, http.MethodGet, "/api/pose", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got pointtracker.Sample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Valid)
	assert.Equal(t, 10.0, got.Pose.Yaw)
	assert.Equal(t, 30.0, got.Pose.Z)

	w = do(t, h, http.MethodPost, "/api/pose", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestShowHistory(t *testing.T) {
	s, _, h := newTestServer(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Publish(pointtracker.Sample{Valid: true}))
	}

	w := do(t, h, http.MethodGet, "/api/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []pointtracker.Sample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = do(t, h, http.MethodGet, "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShowDiagnostics(t *testing.T) {
	_, _, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/api/diagnostics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got pointtracker.Diagnostics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "running", got.State)
}

func TestShowVersion(t *testing.T) {
	_, _, h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got version.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, version.Get(), got)
}

func TestSettings(t *testing.T) {
	_, tr, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got config.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, config.DefaultSettings(), got)

	w = do(t, h, http.MethodPut, "/api/settings", `{"threshold": 200}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 200, tr.Settings().Threshold)
	assert.Equal(t, config.DefaultSettings().MaxPointSize, tr.Settings().MaxPointSize, "unspecified fields keep their values")

	w = do(t, h, http.MethodPut, "/api/settings", `{"threshold": 999}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 200, tr.Settings().Threshold, "invalid settings are not applied")

	w = do(t, h, http.MethodPut, "/api/settings", `{"no_such_field": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/settings", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestControlHandlers(t *testing.T) {
	_, tr, h := newTestServer(t)

	for _, name := range []string{"start", "pause", "resume", "reset", "center"} {
		w := do(t, h, http.MethodPost, "/api/"+name, "")
		require.Equal(t, http.StatusOK, w.Code, name)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, name+" ok", resp["status"])
		assert.Equal(t, "running", resp["state"])
	}
	assert.Equal(t, []string{"start", "pause", "resume", "reset", "center"}, tr.calls)

	w := do(t, h, http.MethodGet, "/api/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	tr.startErr = pointtracker.ErrAlreadyStarted
	w = do(t, h, http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestShowPreview(t *testing.T) {
	_, tr, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/preview.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	tr.preview = &camera.Frame{Image: image.NewGray(image.Rect(0, 0, 64, 48))}
	w = do(t, h, http.MethodGet, "/api/preview.png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestPoseChart(t *testing.T) {
	s, _, h := newTestServer(t)
	base := time.Unix(1000, 0)
	require.NoError(t, s.Publish(pointtracker.Sample{Time: base, Valid: true, Pose: pointtracker.HeadPose{Yaw: 5}}))
	require.NoError(t, s.Publish(pointtracker.Sample{Time: base.Add(time.Second), Valid: false}))

	for _, kind := range []string{"", "rotation", "translation"} {
		w := do(t, h, http.MethodGet, "/charts/pose?kind="+kind, "")
		require.Equal(t, http.StatusOK, w.Code, kind)
		assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "echarts")
	}

	w := do(t, h, http.MethodGet, "/charts/pose?kind=speed", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodGet, "/charts/pose?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := do(t, h, http.MethodGet, "/x?y=1", "")
	assert.Equal(t, http.StatusTeapot, w.Code)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "418")
	assert.Contains(t, logged[0], "/x?y=1")

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
