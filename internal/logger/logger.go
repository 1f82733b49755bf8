// Package logger configures the application's slog logger and carries request-scoped loggers
// through the context.
//
// dev and test environments use a coloured, human readable handler (tint); staging and prod
// log JSON to stdout.
package logger

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LevelNone disables all logging.
const LevelNone = slog.Level(math.MaxInt32)

type contextKey int

const (
	requestLoggerKey contextKey = iota
	logAttrsKey
)

// ParseLogLevel converts a LOG_LEVEL value to a slog level.
// "none" silences the logger; unrecognised values default to info.
func ParseLogLevel(level string) slog.Level {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "none" || level == "off" {
		return LevelNone
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// InitLogger creates the application logger and installs it as the slog default.
func InitLogger(level slog.Level, environment string) *slog.Logger {
	var w io.Writer = os.Stdout
	if environment == "dev" || environment == "test" {
		w = os.Stderr
	}
	l := NewLogger(w, level, environment)
	slog.SetDefault(l)
	return l
}

// NewLogger creates a logger writing to w without touching the slog default.
func NewLogger(w io.Writer, level slog.Level, environment string) *slog.Logger {
	if level == LevelNone {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelNone}))
	}

	switch environment {
	case "dev", "test":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// WithRequestLogger returns a context carrying l.
func WithRequestLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerKey, l)
}

// ContextRequestLogger returns the request logger stored in ctx, or the default logger.
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// logAttrs accumulates attributes for the final request log line.
type logAttrs struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func withLogAttrs(ctx context.Context) (context.Context, *logAttrs) {
	la := &logAttrs{}
	return context.WithValue(ctx, logAttrsKey, la), la
}

// ContextWithLogAttrs adds attributes to the "request completed" log line written by
// RequestLogging. It is a no-op outside a logged request.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	la, ok := ctx.Value(logAttrsKey).(*logAttrs)
	if !ok {
		return
	}
	la.mu.Lock()
	la.attrs = append(la.attrs, attrs...)
	la.mu.Unlock()
}

func (la *logAttrs) snapshot() []slog.Attr {
	la.mu.Lock()
	defer la.mu.Unlock()
	return append([]slog.Attr(nil), la.attrs...)
}
