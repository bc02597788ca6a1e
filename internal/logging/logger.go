// Package logging provides structured logging for the preload daemon.
//
// It wraps log/slog for structured, leveled logging, supports text and
// JSON output, and integrates with context.Context for tick-scoped
// loggers so a prefetch failure or scan warning can be traced back to
// the tick that produced it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type ctxKey struct{}

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Output    io.Writer
	AddSource bool
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

// SetDefault sets the process-wide default logger.
func SetDefault(logger *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// Default returns the process-wide default logger.
func Default() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithExe returns a logger annotated with an exe path.
func WithExe(logger *slog.Logger, path string) *slog.Logger {
	return logger.With(slog.String("exe", path))
}

// WithMap returns a logger annotated with a map path and offset.
func WithMap(logger *slog.Logger, path string, offset uint64) *slog.Logger {
	return logger.With(slog.String("map", path), slog.Uint64("offset", offset))
}

// WithTick returns a logger annotated with the model clock tick.
func WithTick(logger *slog.Logger, tick int64) *slog.Logger {
	return logger.With(slog.Int64("tick", tick))
}

// ContextWithLogger attaches a logger to ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the logger attached to ctx, or Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}

// ParseLevel parses a log level string; unrecognised values are Info.
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

// LevelFromVerbosity maps cobra's -v/-vv/-vvv count flag to a level:
// 0 -> Info, 1 -> Debug, 2+ -> Debug with source.
func LevelFromVerbosity(count int) slog.Level {
	if count <= 0 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}
