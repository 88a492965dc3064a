// Package logger provides level-gated, fixed-column logging for the redactor.
//
// Each entry is one line:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message key=value ...
//
// Levels (lowest to highest): debug, info, warn, error. Entries below the
// configured minimum are dropped. Callers log entity types, counts and
// offsets; literal PII values never go to the log.
//
// Usage:
//
//	log := logger.New("document", cfg.LogLevel).With("doc", id)
//	log.Infof("page_done", "page=%d entities=%d", i, n)
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger writes log lines for a single module. Child loggers created by With
// share the parent's level and output.
type Logger struct {
	module string
	fields string
	level  *atomic.Int32
	out    *log.Logger
}

// New creates a Logger for module writing to stderr. Unrecognized level
// strings default to "info".
func New(module, levelStr string) *Logger {
	return NewWithWriter(module, levelStr, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(module, levelStr string, w io.Writer) *Logger {
	lvl := new(atomic.Int32)
	lvl.Store(int32(parseLevel(levelStr)))
	return &Logger{
		module: strings.ToUpper(module),
		level:  lvl,
		out:    log.New(w, "", 0),
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger { return NewWithWriter("discard", "error", io.Discard) }

// Module returns a Logger for another module sharing this one's level and
// output, without the parent's fields.
func (l *Logger) Module(module string) *Logger {
	return &Logger{module: strings.ToUpper(module), level: l.level, out: l.out}
}

// With returns a child Logger that appends key=value to every line.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		module: l.module,
		fields: l.fields + fmt.Sprintf(" %s=%v", key, value),
		level:  l.level,
		out:    l.out,
	}
}

// SetLevel changes the minimum log level at runtime for this logger and
// every logger derived from it.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Store(int32(parseLevel(levelStr)))
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool { return level >= Level(l.level.Load()) }

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

func (l *Logger) Debugf(action, format string, args ...any) {
	if l.Enabled(LevelDebug) {
		l.Debug(action, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, label, action, msg string) {
	if !l.Enabled(level) {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s%s", ts, l.module, action, label, msg, l.fields)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
