// Package log wraps log/slog with component-scoped loggers so every record
// carries a stable "component" attribute.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with a component attribute attached to every record.
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler
}

// DefaultConfig returns sensible defaults for logging
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
	}
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.Level,
		})
	}

	return &Logger{
		Logger:    slog.New(handler).With(FieldComponent, config.Component),
		component: config.Component,
	}
}

// Init installs a default text logger on stdout at the level matching the
// verbosity count (0 = info, anything higher = debug) and returns it.
func Init(verbosity int) *Logger {
	return InitTo(os.Stdout, verbosity)
}

// InitTo is Init with an explicit destination. Commands whose stdout carries
// data log to stderr through it.
func InitTo(w io.Writer, verbosity int) *Logger {
	level := slog.LevelInfo
	if verbosity > 0 {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	logger := New(Config{Level: level, Component: ComponentApp, Handler: handler})
	slog.SetDefault(logger.Logger)
	return logger
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		component: l.component,
	}
}

// WithComponent returns a new logger scoped to a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(FieldComponent, component),
		component: component,
	}
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}
