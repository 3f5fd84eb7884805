// Package logger provides structured logging for runelm over log/slog.
// Commands pick an output format and level once; everything below them
// receives a Logger and stays ignorant of the handler.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is the logging interface the trainer, server, and CLI share.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New wraps a slog handler in a Logger.
func New(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(handler)}
}

// Default returns a text Logger writing to stderr at info level.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Discard returns a Logger that drops every record. Tests use it to run
// chatty components silently.
func Discard() Logger {
	return New(slog.DiscardHandler)
}

// JSON returns a Logger with machine-readable output.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

// Pretty returns a Logger with colored output for interactive use.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// ForFormat builds a Logger for one of the CLI output formats: "text",
// "json", or "pretty". Unknown formats fall back to text.
func ForFormat(w io.Writer, format string, level slog.Level) Logger {
	switch format {
	case "json":
		return JSON(w, level)
	case "pretty":
		return Pretty(w, level)
	default:
		return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}

// ParseLevel maps a level name to its slog.Level. Unknown names mean
// info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type loggerKey struct{}

// WithContext stores the logger in the context.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger stored in the context, or Default
// when none is stored.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

func (l *slogLogger) Debug(msg string, args ...any) { l.l.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.l.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.l.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.l.Error(msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: l.l.With(args...)}
}

func (l *slogLogger) WithGroup(name string) Logger {
	return &slogLogger{l: l.l.WithGroup(name)}
}
