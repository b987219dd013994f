package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/l0p7/coursemart/internal/logging"
)

const defaultCorrelationHeader = "X-Request-ID"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// middleware wraps the mux with correlation, request logging, metrics and
// tracing. The route label comes from the matched mux pattern so path ids do
// not explode metric cardinality.
func (rt *router) middleware(next http.Handler) http.Handler {
	header := rt.deps.CorrelationHeader
	if header == "" {
		header = defaultCorrelationHeader
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		correlationID := requestCorrelationID(r, header)
		w.Header().Set(header, correlationID)

		ctx := logging.AddMetaToContext(r.Context(), rt.logger,
			slog.String("correlation_id", correlationID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		req := r.WithContext(ctx)
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, req)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		rt.deps.Metrics.ObserveHTTP(route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logging.FromContext(ctx, rt.logger).LogAttrs(ctx, level, "request completed",
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", elapsed),
		)
	})

	return otelhttp.NewHandler(inner, "coursemart",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// requestCorrelationID echoes a caller-supplied id or mints a new one.
func requestCorrelationID(r *http.Request, header string) string {
	if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
		return id
	}
	return uuid.NewString()
}

func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	return logging.FromContext(ctx, fallback)
}
