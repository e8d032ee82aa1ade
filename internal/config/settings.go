package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath is the path to the canonical tracker defaults file.
// It must stay in sync with DefaultSettings.
const DefaultConfigPath = "config/tracker.defaults.json"

// EnvPrefix is the prefix for environment overrides, e.g.
// HEADTRACK_THRESHOLD=140 or HEADTRACK_CAM_PITCH=12.5.
const EnvPrefix = "HEADTRACK"

// Frame rotations accepted by Settings.Rotation.
const (
	RotationZero             = "zero"
	RotationClockwise        = "cw"
	RotationCounterClockwise = "ccw"
)

// Settings is a value snapshot of every tunable consumed by the tracker.
// It is loaded once at startup and handed to Tracker.Apply; the tracker never
// reads persisted storage itself.
type Settings struct {
	// Camera
	CameraIndex int     `json:"cam_index" mapstructure:"cam_index"`
	CameraResX  int     `json:"cam_res_x" mapstructure:"cam_res_x"`
	CameraResY  int     `json:"cam_res_y" mapstructure:"cam_res_y"`
	CameraFPS   int     `json:"cam_fps" mapstructure:"cam_fps"`
	FocalRatio  float64 `json:"cam_f" mapstructure:"cam_f"` // focal length / sensor width
	CameraPitch float64 `json:"cam_pitch" mapstructure:"cam_pitch"`
	Rotation    string  `json:"rotation" mapstructure:"rotation"`

	// Point extraction
	Threshold    int `json:"threshold" mapstructure:"threshold"`
	MinPointSize int `json:"min_point_size" mapstructure:"min_point_size"` // pixels
	MaxPointSize int `json:"max_point_size" mapstructure:"max_point_size"` // pixels

	// Pose solving
	DynamicPoseResolution bool          `json:"dyn_pose_res" mapstructure:"dyn_pose_res"`
	ResetTime             time.Duration `json:"reset_time" mapstructure:"reset_time"`
	MaxIterations         int           `json:"max_iterations" mapstructure:"max_iterations"`

	// Model geometry (millimetres)
	M01         float64 `json:"m01" mapstructure:"m01"`
	M02         float64 `json:"m02" mapstructure:"m02"`
	HeadOffsetX float64 `json:"t_mh_x" mapstructure:"t_mh_x"`
	HeadOffsetY float64 `json:"t_mh_y" mapstructure:"t_mh_y"`
	HeadOffsetZ float64 `json:"t_mh_z" mapstructure:"t_mh_z"`

	// Output axes
	EnableRoll  bool `json:"enable_roll" mapstructure:"enable_roll"`
	EnablePitch bool `json:"enable_pitch" mapstructure:"enable_pitch"`
	EnableYaw   bool `json:"enable_yaw" mapstructure:"enable_yaw"`
	EnableX     bool `json:"enable_x" mapstructure:"enable_x"`
	EnableY     bool `json:"enable_y" mapstructure:"enable_y"`
	EnableZ     bool `json:"enable_z" mapstructure:"enable_z"`

	// Scheduling
	SleepTime    time.Duration `json:"sleep_time" mapstructure:"sleep_time"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`

	// Diagnostics
	Preview        bool `json:"video_widget" mapstructure:"video_widget"`
	LogPerformance bool `json:"log_performance" mapstructure:"log_performance"`
}

// DefaultSettings returns the built-in defaults. The canonical JSON copy lives
// at DefaultConfigPath.
func DefaultSettings() Settings {
	return Settings{
		CameraIndex: 0,
		CameraResX:  640,
		CameraResY:  480,
		CameraFPS:   30,
		FocalRatio:  1.0,
		CameraPitch: 0,
		Rotation:    RotationZero,

		Threshold:    128,
		MinPointSize: 4,
		MaxPointSize: 400,

		DynamicPoseResolution: true,
		ResetTime:             1 * time.Second,
		MaxIterations:         20,

		M01: 50,
		M02: 50,

		EnableRoll:  true,
		EnablePitch: true,
		EnableYaw:   true,
		EnableX:     true,
		EnableY:     true,
		EnableZ:     true,

		SleepTime:    10 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

// defaultsMap mirrors DefaultSettings keyed by the mapstructure names so that
// viper can bind environment overrides for every key.
func defaultsMap(s Settings) map[string]interface{} {
	return map[string]interface{}{
		"cam_index":       s.CameraIndex,
		"cam_res_x":       s.CameraResX,
		"cam_res_y":       s.CameraResY,
		"cam_fps":         s.CameraFPS,
		"cam_f":           s.FocalRatio,
		"cam_pitch":       s.CameraPitch,
		"rotation":        s.Rotation,
		"threshold":       s.Threshold,
		"min_point_size":  s.MinPointSize,
		"max_point_size":  s.MaxPointSize,
		"dyn_pose_res":    s.DynamicPoseResolution,
		"reset_time":      s.ResetTime,
		"max_iterations":  s.MaxIterations,
		"m01":             s.M01,
		"m02":             s.M02,
		"t_mh_x":          s.HeadOffsetX,
		"t_mh_y":          s.HeadOffsetY,
		"t_mh_z":          s.HeadOffsetZ,
		"enable_roll":     s.EnableRoll,
		"enable_pitch":    s.EnablePitch,
		"enable_yaw":      s.EnableYaw,
		"enable_x":        s.EnableX,
		"enable_y":        s.EnableY,
		"enable_z":        s.EnableZ,
		"sleep_time":      s.SleepTime,
		"poll_interval":   s.PollInterval,
		"video_widget":    s.Preview,
		"log_performance": s.LogPerformance,
	}
}

// Load reads settings from path (JSON, YAML or TOML by extension) on top of
// DefaultSettings, then applies HEADTRACK_* environment overrides. An empty
// path loads defaults plus environment only. Keys omitted from the file keep
// their default values, so partial files are safe.
func Load(path string) (Settings, error) {
	v := viper.New()
	for key, value := range defaultsMap(DefaultSettings()) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		cleanPath := filepath.Clean(path)
		switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
		case ".json", ".yaml", ".yml", ".toml":
		default:
			return Settings{}, fmt.Errorf("config file must be .json, .yaml or .toml, got %q", ext)
		}

		// Check file size for safety (max 1MB)
		fileInfo, err := os.Stat(cleanPath)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to stat config file: %w", err)
		}
		const maxFileSize = 1 * 1024 * 1024
		if fileInfo.Size() > maxFileSize {
			return Settings{}, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
		}

		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// MustLoadDefaultSettings loads DefaultConfigPath, searching from the current
// directory up towards the repository root. Panics if the file cannot be
// loaded; intended for test setup.
func MustLoadDefaultSettings() Settings {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if s, err := Load(path); err == nil {
			return s
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the settings describe a usable tracker.
func (s Settings) Validate() error {
	if s.CameraIndex < 0 {
		return fmt.Errorf("cam_index must be non-negative, got %d", s.CameraIndex)
	}
	if s.CameraResX < 0 || s.CameraResY < 0 {
		return fmt.Errorf("camera resolution must be non-negative, got %dx%d", s.CameraResX, s.CameraResY)
	}
	if s.CameraFPS < 0 {
		return fmt.Errorf("cam_fps must be non-negative, got %d", s.CameraFPS)
	}
	if s.FocalRatio <= 0 {
		return fmt.Errorf("cam_f must be positive, got %f", s.FocalRatio)
	}
	if s.CameraPitch < -90 || s.CameraPitch > 90 {
		return fmt.Errorf("cam_pitch must be within [-90, 90] degrees, got %f", s.CameraPitch)
	}
	switch s.Rotation {
	case RotationZero, RotationClockwise, RotationCounterClockwise:
	default:
		return fmt.Errorf("unsupported rotation %q: expected zero, cw or ccw", s.Rotation)
	}
	if s.Threshold < 0 || s.Threshold > 255 {
		return fmt.Errorf("threshold must be between 0 and 255, got %d", s.Threshold)
	}
	if s.MinPointSize < 1 {
		return fmt.Errorf("min_point_size must be at least 1, got %d", s.MinPointSize)
	}
	if s.MaxPointSize < s.MinPointSize {
		return fmt.Errorf("max_point_size (%d) must not be below min_point_size (%d)", s.MaxPointSize, s.MinPointSize)
	}
	if s.ResetTime < 0 {
		return fmt.Errorf("reset_time must be non-negative, got %s", s.ResetTime)
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", s.MaxIterations)
	}
	if s.M01 <= 0 || s.M02 <= 0 {
		return fmt.Errorf("model offsets must be positive, got m01=%f m02=%f", s.M01, s.M02)
	}
	if s.SleepTime < 0 {
		return fmt.Errorf("sleep_time must be non-negative, got %s", s.SleepTime)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", s.PollInterval)
	}
	return nil
}

// HeadOffset returns the marker-to-head translation in millimetres.
func (s Settings) HeadOffset() [3]float64 {
	return [3]float64{s.HeadOffsetX, s.HeadOffsetY, s.HeadOffsetZ}
}
