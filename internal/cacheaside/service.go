// Package cacheaside keeps denormalized read views in a KeyStore in front of
// the relational read model. Reads go through GetOrPopulate; every write path
// calls one of the named Invalidate operations after its mutation commits.
//
// The store is an optimisation, never a dependency: a failing keystore makes
// reads fall through to the read model and makes invalidations log and report
// instead of failing the write.
//
// Invalidation detaches in-flight populates of the keys it removes, so a read
// that starts after it never shares a pre-write result. A populate that
// started before a concurrent write's invalidation can still store pre-write
// data after it. That window is accepted and bounded by the view's TTL.
package cacheaside

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/coursemart/internal/keystore"
	"github.com/l0p7/coursemart/internal/logging"
	"github.com/l0p7/coursemart/internal/metrics"
	"github.com/l0p7/coursemart/internal/reporting"
)

// PopulateError wraps a read-model failure. Nothing is cached when it is
// returned, and errors.Is/As reach the underlying cause.
type PopulateError struct {
	Key string
	Err error
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("cacheaside: populate %s: %v", e.Key, e.Err)
}

func (e *PopulateError) Unwrap() error {
	return e.Err
}

// DefaultPopulateTimeout bounds a shared populate when Options leaves it unset.
const DefaultPopulateTimeout = 10 * time.Second

type Options struct {
	Store    keystore.KeyStore
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Reporter reporting.Reporter
	Codec    Codec
	Policy   TTLPolicy
	// PopulateTimeout bounds a populate shared by concurrent misses. It runs
	// detached from the caller that started it.
	PopulateTimeout time.Duration
}

// Service is constructed once per process and shared by every reader and
// writer.
type Service struct {
	store    keystore.KeyStore
	logger   *slog.Logger
	metrics  *metrics.Recorder
	reporter reporting.Reporter
	codec    Codec
	policy   atomic.Pointer[TTLPolicy]
	flights  singleflight.Group
	tracer   trace.Tracer

	populateTimeout time.Duration
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("cacheaside: store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = reporting.NewLogReporter(logger)
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	policy := opts.Policy
	if policy == (TTLPolicy{}) {
		policy = DefaultTTLPolicy()
	}
	populateTimeout := opts.PopulateTimeout
	if populateTimeout <= 0 {
		populateTimeout = DefaultPopulateTimeout
	}

	s := &Service{
		store:    opts.Store,
		logger:   logger.With(slog.String("agent", "cache_aside")),
		metrics:  opts.Metrics,
		reporter: reporter,
		codec:    codec,
		tracer:   otel.Tracer("coursemart/cacheaside"),

		populateTimeout: populateTimeout,
	}
	s.policy.Store(&policy)
	return s, nil
}

// Policy returns the TTL policy currently in effect.
func (s *Service) Policy() TTLPolicy {
	return *s.policy.Load()
}

// SetPolicy swaps the TTL policy for subsequent stores. Entries already in the
// store keep the expiry they were written with.
func (s *Service) SetPolicy(policy TTLPolicy) {
	s.policy.Store(&policy)
}

// GetOrPopulate returns the view stored under key, or computes it with
// populate, stores it for ttl and returns it.
//
// Concurrent misses for the same key in this process share one populate call;
// the shared value must be treated as read-only. The shared call outlives a
// caller that gives up, and that caller alone gets its ctx error. A keystore
// failure on lookup serves populate's result without storing it.
func GetOrPopulate[T any](ctx context.Context, s *Service, key string, ttl time.Duration, populate func(context.Context) (T, error)) (T, error) {
	var zero T
	view := ViewOf(key)
	ctx, span := s.tracer.Start(ctx, "cacheaside.GetOrPopulate", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.view", view),
	))
	defer span.End()

	lookupStart := time.Now()
	payload, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.ObserveCacheLookup(view, metrics.CacheLookupError, time.Since(lookupStart))
		span.SetAttributes(attribute.String("cache.result", string(metrics.CacheLookupError)))
		s.swallow(ctx, "cache lookup failed, serving uncached", err, key, false)

		value, err := s.populate(ctx, view, key, func(ctx context.Context) (any, error) {
			return populate(ctx)
		})
		if err != nil {
			return zero, err
		}
		s.metrics.ObserveCacheStore(view, metrics.CacheStoreSkipped, 0)
		typed, _ := value.(T)
		return typed, nil
	}

	if found {
		var cached T
		decodeErr := s.codec.Unmarshal(payload, &cached)
		if decodeErr == nil {
			s.metrics.ObserveCacheLookup(view, metrics.CacheLookupHit, time.Since(lookupStart))
			span.SetAttributes(attribute.String("cache.result", string(metrics.CacheLookupHit)))
			return cached, nil
		}
		// An entry written by an incompatible codec or view version is dropped
		// and recomputed.
		s.swallow(ctx, "cached view undecodable, repopulating", decodeErr, key, true)
		if _, delErr := s.store.Del(ctx, key); delErr != nil {
			s.swallow(ctx, "dropping undecodable view failed", delErr, key, true)
		}
	}
	s.metrics.ObserveCacheLookup(view, metrics.CacheLookupMiss, time.Since(lookupStart))
	span.SetAttributes(attribute.String("cache.result", string(metrics.CacheLookupMiss)))

	flight := s.flights.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.populateTimeout)
		defer cancel()
		value, err := s.populate(ctx, view, key, func(ctx context.Context) (any, error) {
			return populate(ctx)
		})
		if err != nil {
			return nil, err
		}
		s.storeView(ctx, view, key, value, ttl)
		return value, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, _ := res.Val.(T)
		return typed, nil
	}
}

func (s *Service) populate(ctx context.Context, view, key string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	value, err := fn(ctx)
	s.metrics.ObservePopulate(view, err != nil, time.Since(start))
	if err != nil {
		return nil, &PopulateError{Key: key, Err: err}
	}
	return value, nil
}

func (s *Service) storeView(ctx context.Context, view, key string, value any, ttl time.Duration) {
	start := time.Now()
	payload, err := s.codec.Marshal(value)
	if err != nil {
		s.metrics.ObserveCacheStore(view, metrics.CacheStoreError, time.Since(start))
		s.swallow(ctx, "encoding view failed", err, key, true)
		return
	}
	if err := s.store.Set(ctx, key, payload, ttl); err != nil {
		s.metrics.ObserveCacheStore(view, metrics.CacheStoreError, time.Since(start))
		s.swallow(ctx, "cache store failed", err, key, true)
		return
	}
	s.metrics.ObserveCacheStore(view, metrics.CacheStoreStored, time.Since(start))
}

// swallow logs an error that must not reach the caller. Lookup failures only
// degrade latency and are not reported; anything that can leave a stale or
// broken entry behind is.
func (s *Service) swallow(ctx context.Context, msg string, err error, key string, report bool) {
	logging.FromContext(ctx, s.logger).LogAttrs(ctx, slog.LevelWarn, msg,
		slog.String("cache_key", key),
		slog.Any("error", err),
	)
	if report {
		s.reporter.Report(ctx, err, map[string]string{"cache_key": key, "event": msg})
	}
}
