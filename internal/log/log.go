// Package log provides structured logging for the application.
// It wraps paularlott/logger so call sites stay decoupled from the backend.
package log

import (
	"os"

	"github.com/paularlott/logger"
	logslog "github.com/paularlott/logger/slog"
)

var l logger.Logger = logslog.New(logslog.Config{
	Level:  "info",
	Format: "console",
	Writer: os.Stderr,
})

// Configure sets the global log level and output format.
// Level is one of trace, debug, info, warn, error; format is console or json.
func Configure(level, format string) {
	l = logslog.New(logslog.Config{
		Level:  level,
		Format: format,
		Writer: os.Stderr,
	})
}

// Trace logs a trace message with key/value pairs
func Trace(msg string, args ...any) {
	l.Trace(msg, args...)
}

// Debug logs a debug message with key/value pairs
func Debug(msg string, args ...any) {
	l.Debug(msg, args...)
}

// Info logs an info message with key/value pairs
func Info(msg string, args ...any) {
	l.Info(msg, args...)
}

// Warn logs a warning message with key/value pairs
func Warn(msg string, args ...any) {
	l.Warn(msg, args...)
}

// Error logs an error message with key/value pairs
func Error(msg string, args ...any) {
	l.Error(msg, args...)
}

// Fatal logs an error message with key/value pairs and exits
func Fatal(msg string, args ...any) {
	l.Fatal(msg, args...)
}
