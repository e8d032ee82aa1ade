package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger or UseZerolog. Tests or production code can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs through Logf only when debug output is enabled. Per-frame
// diagnostics (rejected correspondences, dropped frames) go here so they do
// not flood the log at frame rate.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerolog builds a timestamped zerolog logger writing to w. A nil writer
// falls back to a console writer on stderr.
func NewZerolog(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = zerolog.NewConsoleWriter()
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// UseZerolog routes Logf and Debugf through the given logger. Debug output is
// enabled when the logger level admits debug events.
func UseZerolog(logger zerolog.Logger) {
	SetDebug(logger.GetLevel() <= zerolog.DebugLevel)
	Logf = func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		if strings.HasPrefix(msg, "[debug] ") {
			logger.Debug().Msg(strings.TrimPrefix(msg, "[debug] "))
			return
		}
		logger.Info().Msg(msg)
	}
}
