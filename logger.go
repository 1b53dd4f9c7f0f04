package docgo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with docgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogSave logs a save operation.
func (l *Logger) LogSave(ctx context.Context, name string, bytes int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"database", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "save completed",
			"database", name,
			"bytes", bytes,
			"took", took,
		)
	}
}

// LogLoad logs a load operation.
func (l *Logger) LogLoad(ctx context.Context, name string, collections int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"database", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "load completed",
			"database", name,
			"collections", collections,
		)
	}
}

// LogAutosave logs a background autosave cycle.
func (l *Logger) LogAutosave(ctx context.Context, name string, skipped bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "autosave failed",
			"database", name,
			"error", err,
		)
	case skipped:
		l.DebugContext(ctx, "autosave skipped",
			"database", name,
		)
	default:
		l.DebugContext(ctx, "autosave completed",
			"database", name,
		)
	}
}

// LogClose logs database shutdown.
func (l *Logger) LogClose(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"database", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "database closed",
			"database", name,
		)
	}
}
