// Package log wires slog for the whole application. A run-scoped logger
// travels through the context so that engines and pipeline stages can attach
// fields without threading a logger argument everywhere.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey struct{}

// Debug mirrors the --debug CLI flag. Fetchers consult it to decide whether
// to log extra transport diagnostics.
var Debug bool

func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func InitializeDefaultLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// NewFileLogger returns a logger writing to w only. Used for run.log and
// the per-source source.log files.
func NewFileLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
