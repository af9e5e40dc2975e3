package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"homeus/config"
)

// Logger bundles the process logger with the sinks that must be closed on
// shutdown.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// New builds the process logger: console output (tinted when enabled), a
// JSON log file with size-based rotation, and optionally a Fluentd sink.
func New(cfg config.LoggingConfig) (*Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	l := &Logger{}

	var handlers []slog.Handler
	switch {
	case cfg.Format == "json":
		handlers = append(handlers, slog.NewJSONHandler(console, &slog.HandlerOptions{Level: level}))
	case cfg.Color:
		handlers = append(handlers, tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		}))
	default:
		handlers = append(handlers, slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}))
	}

	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, int64(cfg.MaxSizeMB)*1024*1024, cfg.Backups)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, rw)
		handlers = append(handlers, slog.NewJSONHandler(rw, &slog.HandlerOptions{Level: level}))
	}

	if cfg.Fluent.Enabled {
		client, err := dialFluent(cfg.Fluent.Host, cfg.Fluent.Port)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.closers = append(l.closers, client)
		handlers = append(handlers, newFluentHandler(client, cfg.Fluent.TagPrefix, level))
	}

	l.Logger = slog.New(newFanoutHandler(handlers...))
	return l, nil
}

func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
