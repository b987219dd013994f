package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/l0p7/coursemart/internal/config"
)

// Logger bundles the process logger with the level it filters on, so a
// config reload can change verbosity in place.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds the process logger from the logging block of the configuration.
func New(cfg config.LoggingConfig) (*Logger, error) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	return &Logger{
		Logger: slog.New(handler).With(slog.String("component", "coursemart")),
		level:  levelVar,
	}, nil
}

// SetLevel changes the level of this logger and every logger derived from it.
// The format cannot change without a restart.
func (l *Logger) SetLevel(raw string) error {
	level, err := ParseLevel(raw)
	if err != nil {
		return err
	}
	l.level.Set(level)
	return nil
}

func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// ParseLevel maps a configured level name; empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unsupported level %q", raw)
	}
}
