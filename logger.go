package allocgo

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocgo-specific context.
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

// WithComponent adds a component field to the logger (e.g. "arena", "slab").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// WithSize adds a byte size field to the logger.
func (l *Logger) WithSize(size uintptr) *Logger {
	return &Logger{
		Logger: l.Logger.With("size", uint64(size)),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogAllocFailure logs an allocation failure about to be escalated.
func (l *Logger) LogAllocFailure(layout Layout, err error) {
	l.Error("allocation failed",
		"size", uint64(layout.Size()),
		"align", uint64(layout.Align()),
		"error", err,
	)
}

// LogLimitDenied logs a request denied by a memory limit.
func (l *Logger) LogLimitDenied(requested, used, limit int64) {
	l.Warn("memory limit exceeded",
		"requested", requested,
		"used", used,
		"limit", limit,
	)
}

// LogChunkAllocated logs a newly mapped allocator chunk.
func (l *Logger) LogChunkAllocated(index, size int) {
	l.Debug("chunk allocated",
		"chunk", index,
		"size", size,
	)
}
