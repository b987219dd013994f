// Package reporting is the operator-visible error channel. Failures that are
// swallowed on purpose (keystore outages during invalidation, cache stores that
// could not be written) are sent here so they are not lost.
package reporting

import (
	"context"
	"log/slog"
	"maps"

	"github.com/l0p7/coursemart/internal/logging"
)

// Reporter receives errors that must reach an operator without failing the
// request that produced them.
type Reporter interface {
	Report(ctx context.Context, err error, extras map[string]string)
}

// LogReporter writes reports to the request logger, falling back to the
// logger it was built with.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error, extras map[string]string) {
	if err == nil {
		return
	}
	logger := r.logger
	if fromCtx, ok := logging.LoggerFromContext(ctx); ok {
		logger = fromCtx
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelError, "operator attention required",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)
}

// Multi fans a report out to every non-nil reporter.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, err error, extras map[string]string) {
	for _, r := range m {
		if r == nil {
			continue
		}
		r.Report(ctx, err, maps.Clone(extras))
	}
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, error, map[string]string) {}
