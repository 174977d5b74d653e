package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var slogger *slog.Logger

// InitSlog initializes the package's structured logger, returned by Slog
// and WithContext. jsonOutput selects slog's JSON handler
// for machine consumption; otherwise a human-readable text handler is used.
func InitSlog(w io.Writer, jsonOutput bool) {
	if w == nil {
		w = os.Stderr
	}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slogger = slog.New(handler)
}

// Slog returns the structured logger, defaulting to slog.Default if
// InitSlog was never called.
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

type contextKey string

const (
	ContextKeySessionID contextKey = "session_id"
	ContextKeyTurnID    contextKey = "turn_id"
	ContextKeyToolCall  contextKey = "tool_call_id"
)

// WithContext returns a logger enriched with any of session/turn/tool-call
// ids found on ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	if v := ctx.Value(ContextKeySessionID); v != nil {
		l = l.With("session_id", v)
	}
	if v := ctx.Value(ContextKeyTurnID); v != nil {
		l = l.With("turn_id", v)
	}
	if v := ctx.Value(ContextKeyToolCall); v != nil {
		l = l.With("tool_call_id", v)
	}
	return l
}

// InfoContext logs an info message enriched with ctx's ids.
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning enriched with ctx's ids.
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}
