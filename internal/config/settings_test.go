package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultSettingsValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("DefaultSettings() should validate, got %v", err)
	}
}

func TestDefaultConfigFileMatchesDefaults(t *testing.T) {
	got := MustLoadDefaultSettings()
	if diff := cmp.Diff(DefaultSettings(), got); diff != "" {
		t.Errorf("%s out of sync with DefaultSettings (-want +got):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if diff := cmp.Diff(DefaultSettings(), s); diff != "" {
		t.Errorf("unexpected settings (-want +got):\n%s", diff)
	}
}

func TestLoad_Partial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.json")
	data := `{"threshold": 200, "m01": 40, "sleep_time": "5ms", "enable_yaw": false}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := DefaultSettings()
	want.Threshold = 200
	want.M01 = 40
	want.SleepTime = 5 * time.Millisecond
	want.EnableYaw = false
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("unexpected settings (-want +got):\n%s", diff)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	data := "cam_pitch: 15\nrotation: cw\nreset_time: 250ms\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.CameraPitch != 15 || s.Rotation != RotationClockwise || s.ResetTime != 250*time.Millisecond {
		t.Errorf("unexpected settings: pitch=%v rotation=%q reset=%v", s.CameraPitch, s.Rotation, s.ResetTime)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HEADTRACK_THRESHOLD", "90")
	t.Setenv("HEADTRACK_POLL_INTERVAL", "50ms")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Threshold != 90 {
		t.Errorf("Threshold = %d, want 90", s.Threshold)
	}
	if s.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval = %v, want 50ms", s.PollInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	badExt := filepath.Join(dir, "tracker.ini")
	if err := os.WriteFile(badExt, []byte("threshold=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"threshold": 999}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"bad extension", badExt, "must be .json"},
		{"missing file", filepath.Join(dir, "missing.json"), "failed to stat"},
		{"invalid value", invalid, "threshold must be between 0 and 255"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load(%q) error = %v, want containing %q", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"negative index", func(s *Settings) { s.CameraIndex = -1 }, "cam_index"},
		{"zero focal", func(s *Settings) { s.FocalRatio = 0 }, "cam_f"},
		{"pitch out of range", func(s *Settings) { s.CameraPitch = 120 }, "cam_pitch"},
		{"bad rotation", func(s *Settings) { s.Rotation = "upside-down" }, "rotation"},
		{"threshold", func(s *Settings) { s.Threshold = 256 }, "threshold"},
		{"min size", func(s *Settings) { s.MinPointSize = 0 }, "min_point_size"},
		{"max below min", func(s *Settings) { s.MaxPointSize = 2; s.MinPointSize = 5 }, "max_point_size"},
		{"iterations", func(s *Settings) { s.MaxIterations = 0 }, "max_iterations"},
		{"model", func(s *Settings) { s.M02 = 0 }, "model offsets"},
		{"poll", func(s *Settings) { s.PollInterval = 0 }, "poll_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHeadOffset(t *testing.T) {
	s := DefaultSettings()
	s.HeadOffsetX, s.HeadOffsetY, s.HeadOffsetZ = 1, -2, 90
	if got := s.HeadOffset(); got != [3]float64{1, -2, 90} {
		t.Errorf("HeadOffset() = %v", got)
	}
}
