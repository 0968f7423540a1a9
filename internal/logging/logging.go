// Package logging provides structured logging for caterva.
//
// It wraps log/slog so every component logs with the same handler and
// carries a component attribute. Until Init is called, loggers write
// warnings and errors as text to stderr; component loggers made earlier
// pick up the handler Init installs.
//
//	logging.Init(slog.LevelDebug, true)
//	log := logging.Component("superchunk")
//	log.Debug("chunks committed", "count", 4)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

// Init installs the process logger with the given level and format.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler installs a custom handler. Tests use it to capture output.
func InitWithHandler(handler slog.Handler) {
	logger.Store(slog.New(handler))
}

// Logger returns the process logger, installing the default one on first
// use.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if logger.CompareAndSwap(nil, l) {
		return l
	}
	return logger.Load()
}

// Component returns a logger tagged with component=name. It resolves the
// process logger on every record, so loggers made before Init follow it.
func Component(name string) *slog.Logger {
	attrs := []slog.Attr{slog.String("component", name)}
	return slog.New(processHandler{wrap: func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	}})
}

// processHandler forwards to whatever handler is installed when a record
// is logged.
type processHandler struct {
	wrap func(slog.Handler) slog.Handler
}

func (h processHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h processHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.wrap(Logger().Handler()).Handle(ctx, r)
}

func (h processHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return processHandler{wrap: func(next slog.Handler) slog.Handler {
		return h.wrap(next).WithAttrs(attrs)
	}}
}

func (h processHandler) WithGroup(name string) slog.Handler {
	return processHandler{wrap: func(next slog.Handler) slog.Handler {
		return h.wrap(next).WithGroup(name)
	}}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
