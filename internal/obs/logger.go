package obs

import (
	"context"
	"fmt"
	"log"
	"log/slog"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging sink the server writes to. Every entry carries a
// severity and the name of the module that emitted it.
type Logger interface {
	Logf(level Level, module string, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, module string, format string, args ...interface{}) {}

// StdLogger adapts the standard library logger.
type StdLogger struct {
	L   *log.Logger
	Min Level
}

func (s StdLogger) Logf(level Level, module string, format string, args ...interface{}) {
	if s.L == nil || level < s.Min {
		return
	}
	s.L.Printf("[%s] %s: "+format, append([]interface{}{level.String(), module}, args...)...)
}

// SlogLogger writes entries to a structured slog.Logger with the module
// attached as an attribute.
type SlogLogger struct {
	L *slog.Logger
}

func NewSlogLogger(l *slog.Logger) SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{L: l}
}

func (s SlogLogger) Logf(level Level, module string, format string, args ...interface{}) {
	l := s.L
	if l == nil {
		l = slog.Default()
	}
	lvl := slogLevel(level)
	if !l.Enabled(context.Background(), lvl) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.Log(context.Background(), lvl, msg, slog.String("module", module))
}

func slogLevel(l Level) slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
