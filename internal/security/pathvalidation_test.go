package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "plots")
	outside := filepath.Join(tmpDir, "outside")
	require.NoError(t, os.MkdirAll(safeDir, 0755))
	require.NoError(t, os.MkdirAll(outside, 0755))
	link := filepath.Join(safeDir, "link")
	require.NoError(t, os.Symlink(outside, link))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safeDir, "session.png"), false},
		{"new nested file", filepath.Join(safeDir, "a", "b", "session.png"), false},
		{"dot dot", filepath.Join(safeDir, "..", "session.png"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlink", filepath.Join(link, "session.png"), true},
		{"symlink itself", link, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	assert.NoError(t, ValidateExportPath(filepath.Join(os.TempDir(), "headtrack", "s.png")))
	assert.Error(t, ValidateExportPath("/etc/headtrack.png"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                      "unknown",
		"synthetic":             "synthetic",
		"replay /data/frames":   "replay_data_frames",
		"../../etc/passwd":      "etc_passwd",
		"__":                    "unknown",
		"ok-name_1.2":           "ok-name_1.2",
		"head  pose / session?": "head_pose_session",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
