package server

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-pkgz/lgr"
)

// LogLevel is the severity of a log line.
type LogLevel int

// Log levels, in increasing severity.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel returns the `LogLevel` named by the s, defaulting to
// `LevelInfo` for unknown names.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the server's leveled log sink. Lines below the configured
// level are dropped before they reach the underlying writer; everything
// else is serialised by lgr, which is safe for concurrent use.
type Logger struct {
	level LogLevel
	l     *lgr.Logger
}

// NewLogger builds a `Logger` from the cfg. Console output goes to stdout;
// a configured file is appended to, alongside the console when both are
// enabled.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, os.Stdout)
	}

	if cfg.File != "" {
		f, err := os.OpenFile(
			cfg.File,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0o644,
		)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}

		sinks = append(sinks, f)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, io.Discard)
	}

	opts := []lgr.Option{lgr.Out(io.MultiWriter(sinks...)), lgr.Msec}

	level := ParseLogLevel(cfg.Level)
	if level == LevelDebug {
		opts = append(opts, lgr.Debug)
	}

	return &Logger{level: level, l: lgr.New(opts...)}, nil
}

// Debug logs a DEBUG line.
func (lg *Logger) Debug(format string, args ...interface{}) {
	if lg.level <= LevelDebug {
		lg.l.Logf("[DEBUG] "+format, args...)
	}
}

// Info logs an INFO line.
func (lg *Logger) Info(format string, args ...interface{}) {
	if lg.level <= LevelInfo {
		lg.l.Logf("[INFO] "+format, args...)
	}
}

// Warn logs a WARN line.
func (lg *Logger) Warn(format string, args ...interface{}) {
	if lg.level <= LevelWarn {
		lg.l.Logf("[WARN] "+format, args...)
	}
}

// Error logs an ERROR line.
func (lg *Logger) Error(format string, args ...interface{}) {
	lg.l.Logf("[ERROR] "+format, args...)
}

// Logf implements the `lgr.L` interface so the logger can back the engine
// directly. Lines carry their own bracketed level.
func (lg *Logger) Logf(format string, args ...interface{}) {
	if lg.level > LevelDebug && strings.HasPrefix(format, "[DEBUG]") {
		return
	}

	if lg.level > LevelInfo && strings.HasPrefix(format, "[INFO]") {
		return
	}

	if lg.level > LevelWarn && strings.HasPrefix(format, "[WARN]") {
		return
	}

	lg.l.Logf(format, args...)
}
