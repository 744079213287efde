package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies the block a log record comes from.
type Component string

// One component per modeled block, plus the firmware and host collaborators.
const (
	ComponentPHY        Component = "phy"
	ComponentLink       Component = "link"
	ComponentCDC        Component = "cdc"
	ComponentController Component = "controller"
	ComponentSetup      Component = "setup"
	ComponentIn         Component = "in"
	ComponentOut        Component = "out"
	ComponentEvent      Component = "event"
	ComponentBus        Component = "bus"
	ComponentSim        Component = "sim"
	ComponentDriver     Component = "driver"
	ComponentHost       Component = "host"
	ComponentDFU        Component = "dfu"
)

// LogFormat selects the slog handler.
type LogFormat int

// Log formats.
const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

var (
	// DefaultLogger receives every record written through the Log helpers.
	DefaultLogger *slog.Logger

	// logLevel is shared by every logger built here, so SetLogLevel applies
	// to loggers created before the call.
	logLevel = new(slog.LevelVar)

	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = newLogger(LogFormatText, os.Stderr, nil)
}

func newLogger(format LogFormat, w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogLevel sets the minimum level for loggers using the shared level.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the shared minimum level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces DefaultLogger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// ParseLogFormat maps "text" or "json" to a LogFormat. The empty string is
// text.
func ParseLogFormat(name string) (LogFormat, error) {
	switch name {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("log format %q: %w", name, ErrInvalidParameter)
	}
}

// SetLogFormat replaces DefaultLogger with one writing format to os.Stderr.
func SetLogFormat(format LogFormat) {
	SetLogger(newLogger(format, os.Stderr, nil))
}

// NewLogger returns a text logger on w. A nil opts uses the shared level.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return newLogger(LogFormatText, w, opts)
}

// NewJSONLogger returns a JSON logger on w. A nil opts uses the shared level.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return newLogger(LogFormatJSON, w, opts)
}

// Enabled reports whether records at level pass the shared level. Hot paths
// in the clock-domain models check it before building attributes.
func Enabled(level slog.Level) bool {
	return logLevel.Level() <= level
}

func logAt(level slog.Level, component Component, msg string, args []any) {
	if !Enabled(level) {
		return
	}
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs at debug level, tagged with component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs at info level, tagged with component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs at warn level, tagged with component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs at error level, tagged with component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
