package db

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/pointtracker"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "headtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleAt(t0 time.Time, i int, valid bool) pointtracker.Sample {
	return pointtracker.Sample{
		Time:              t0.Add(time.Duration(i) * 20 * time.Millisecond),
		Valid:             valid,
		Pose:              pointtracker.HeadPose{Yaw: float64(i), Pitch: -float64(i), Roll: 0.5, X: 1, Y: 2, Z: float64(i) / 10},
		ReprojectionError: 0.25,
	}
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)

	status, err := db.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, latest, status["latest_version"])
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.Exec(`SELECT COUNT(*) FROM poses`)
	assert.Error(t, err, "poses table dropped")

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp(), "no change is not an error")
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateTo(1))
	require.NoError(t, db.MigrateForce(1))
}

func TestSessionsAndPoses(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := db.NewRecorder("desk", config.DefaultSettings(), t0)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Session().ID)

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Publish(sampleAt(t0, i, i != 2)))
	}

	all, err := db.Poses(rec.Session().ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	want := sampleAt(t0, 0, true)
	assert.True(t, want.Time.Equal(all[0].Time))
	assert.Equal(t, want.Pose, all[0].Pose)
	assert.Equal(t, want.ReprojectionError, all[0].ReprojectionError)
	assert.False(t, all[2].Valid)
	assert.True(t, all[4].Time.After(all[3].Time))

	last, err := db.Poses(rec.Session().ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 3.0, last[0].Pose.Yaw)
	assert.Equal(t, 4.0, last[1].Pose.Yaw)

	later, err := db.StartSession("later", config.DefaultSettings(), t0.Add(time.Hour))
	require.NoError(t, err)
	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, later.ID, sessions[0].ID)
	assert.Equal(t, "desk", sessions[1].Label)
	assert.True(t, t0.Equal(sessions[1].StartedAt))

	var stored config.Settings
	require.NoError(t, json.Unmarshal([]byte(sessions[1].Settings), &stored))
	assert.Equal(t, config.DefaultSettings(), stored)
}

func TestRecordPose_UnknownSession(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordPose("missing", sampleAt(time.Now(), 0, true))
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestWriteSessionPlot(t *testing.T) {
	t0 := time.Now()
	var samples []pointtracker.Sample
	for i := 0; i < 50; i++ {
		samples = append(samples, sampleAt(t0, i, i%7 != 0))
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSessionPlot(&buf, samples))
	cfg, err := png.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Positive(t, cfg.Width)

	path := filepath.Join(t.TempDir(), "plots", "session.png")
	require.NoError(t, PlotSession(path, samples))
	assert.FileExists(t, path)

	assert.ErrorIs(t, WriteSessionPlot(&buf, []pointtracker.Sample{sampleAt(t0, 0, false)}), errNoValidSamples)
}

func TestExportSessionPlot(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Now()
	rec, err := db.NewRecorder("replay /data/run 1", config.DefaultSettings(), t0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Publish(sampleAt(t0, i, true)))
	}

	dir := t.TempDir()
	path, err := db.ExportSessionPlot(dir, rec.Session())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "replay_data_run_1-"+rec.Session().ID+".png"), path)
	assert.FileExists(t, path)

	_, err = db.ExportSessionPlot("/etc", rec.Session())
	assert.Error(t, err)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/tailsql/", "/debug/backup", "/debug/sessions"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// Might return 403 due to tailscale auth, but shouldn't be 404.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestAdminHandlers(t *testing.T) {
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.handleSessions(w, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = httptest.NewRecorder()
	db.handlePlot(w, httptest.NewRequest(http.MethodGet, "/debug/plot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	t0 := time.Now()
	rec, err := db.NewRecorder("", config.DefaultSettings(), t0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, rec.Publish(sampleAt(t0, i, true)))
	}

	w = httptest.NewRecorder()
	db.handlePlot(w, httptest.NewRequest(http.MethodGet, "/debug/plot?limit=5", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	db.handlePlot(w, httptest.NewRequest(http.MethodGet, "/debug/plot?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	db.handleBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Positive(t, w.Body.Len())
}
