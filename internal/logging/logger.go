// Package logging wraps charmbracelet/log with a process-wide logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger is the structured logger used across the service and the client.
type Logger struct {
	*log.Logger
}

var (
	logger *Logger
	once   sync.Once
)

// Setup configures the process-wide logger. It may run after the logger was
// first used; the prefix and level are applied in place.
// level is one of debug, info, warn, error; DEBUG=1 forces debug with caller info.
func Setup(prefix, level string) {
	ensureInitialized()
	logger.SetPrefix(prefix)
	if os.Getenv("DEBUG") != "1" {
		logger.SetLevel(parseLevel(level))
	}
}

// New builds a standalone logger writing to w.
func New(w io.Writer, prefix, level string) *Logger {
	opts := log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	}
	if os.Getenv("DEBUG") == "1" {
		opts.ReportCaller = true
		level = "debug"
	}

	base := log.NewWithOptions(w, opts)
	base.SetLevel(parseLevel(level))
	return &Logger{Logger: base}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(io.Discard, "", "error")
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Default returns the process-wide logger, creating it with info level if needed.
func Default() *Logger {
	ensureInitialized()
	return logger
}

// Debug logs debug messages if debug logging is enabled.
func Debug(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Debug(msg, keyvals...)
}

// Info logs informational messages.
func Info(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Info(msg, keyvals...)
}

// Warn logs warning messages.
func Warn(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Warn(msg, keyvals...)
}

// Error logs error messages.
func Error(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Error(msg, keyvals...)
}

// Fatal logs a fatal message and exits the program.
func Fatal(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Fatal(msg, keyvals...)
}

func ensureInitialized() {
	once.Do(func() {
		logger = New(os.Stderr, "", "info")
	})
}
