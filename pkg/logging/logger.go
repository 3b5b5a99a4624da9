// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging provides structured logging for the task-queue core and
// its collaborators (executor, semaphore, command buffer).
//
// The logger is a thin wrapper around the standard library's log/slog: a
// stderr handler by default, optional JSON output, and a Config struct with
// documented zero-value defaults. There is no file or network sink — the
// task queue carries no persisted state and logging must never become a
// suspension point on the submit path.
package logging

import (
	"log/slog"
	"os"
)

// Level is the minimum severity a Logger will emit.
type Level int

const (
	// LevelDebug is for per-task-kind transition tracing (wait/issue/retire).
	LevelDebug Level = iota - 1
	// LevelInfo is for submit-batch acceptance and queue lifecycle events.
	LevelInfo
	// LevelWarn is for recoverable degraded-observability situations.
	LevelWarn
	// LevelError is for non-ok statuses returned by the executor, semaphore,
	// or command-buffer layers.
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures a Logger. The zero value is Info level, text output to
// stderr.
type Config struct {
	// Level is the minimum level emitted. Default: LevelInfo.
	Level Level

	// JSON selects JSON output instead of human-readable text.
	JSON bool

	// Quiet discards all output. Useful in tests that assert on returned
	// values rather than log content.
	Quiet bool

	// Service names the component emitting logs (e.g. "queue", "executor").
	Service string
}

// Logger wraps slog.Logger with the queue's Config conventions.
type Logger struct {
	slog *slog.Logger
}

// New creates a Logger from Config.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handler slog.Handler
	switch {
	case cfg.Quiet:
		handler = slog.NewTextHandler(discardWriter{}, opts)
	case cfg.JSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	return &Logger{slog: slog.New(handler)}
}

// Default returns an Info-level, text-to-stderr logger tagged "hal".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "hal"})
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger carrying additional attributes, e.g. a
// per-submission session id.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Slog exposes the underlying slog.Logger for callers that need LogAttrs or
// custom Record handling.
func (l *Logger) Slog() *slog.Logger { return l.slog }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
