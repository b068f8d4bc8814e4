// Package logging builds the shared zap logger and maps the bus diagnostic
// levels onto zap levels.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the bus diagnostic level.
type Level int

const (
	// LevelPlain logs human-facing messages only.
	LevelPlain Level = iota
	LevelError
	LevelInfo
	LevelDebug
	// LevelTraceBus additionally traces every bus dispatch.
	LevelTraceBus
	LevelTrace
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelPlain:
		return "plain"
	case LevelError:
		return "error"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTraceBus:
		return "trace_bus"
	case LevelTrace:
		return "trace"
	case LevelNone:
		return "none"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "plain":
		return LevelPlain, nil
	case "error":
		return LevelError, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace_bus":
		return LevelTraceBus, nil
	case "trace":
		return LevelTrace, nil
	case "none":
		return LevelNone, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelPlain, LevelError:
		return zapcore.ErrorLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug, LevelTraceBus, LevelTrace:
		return zapcore.DebugLevel
	case LevelNone:
		return zapcore.FatalLevel + 1
	}
	return zapcore.InfoLevel
}

// New builds the process logger. With useSyslog set (POSIX only),
// diagnostics are rerouted to the system log instead of stderr.
func New(level Level, useSyslog bool) (*zap.Logger, error) {
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	if useSyslog {
		return newSyslogLogger(level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
