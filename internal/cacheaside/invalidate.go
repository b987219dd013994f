package cacheaside

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/coursemart/internal/logging"
)

// Invalidation targets, used as metric labels and in operator reports.
const (
	TargetAllCourses  = "all_courses"
	TargetCourse      = "course"
	TargetInstructor  = "instructor"
	TargetUserProfile = "user_profile"
)

// The Invalidate operations delete the views a write made stale. They are
// idempotent, return how many keys were removed and never fail: a keystore
// error is logged, reported and counted, and the keys it could not remove
// expire with their TTL.

func (s *Service) InvalidateAllCourses(ctx context.Context) int64 {
	return s.invalidate(ctx, TargetAllCourses, "", AllCoursesKey())
}

func (s *Service) InvalidateCourse(ctx context.Context, courseID int64) int64 {
	return s.invalidate(ctx, TargetCourse, strconv.FormatInt(courseID, 10), CourseKey(courseID))
}

// InvalidateInstructor removes the instructor profile and every derived
// instructor view. The pattern step is bounded to this instructor's prefix.
func (s *Service) InvalidateInstructor(ctx context.Context, instructorID int64) int64 {
	id := strconv.FormatInt(instructorID, 10)
	deleted := s.invalidate(ctx, TargetInstructor, id, InstructorKey(instructorID))
	deleted += s.invalidatePattern(ctx, TargetInstructor, id, InstructorPattern(instructorID))
	s.flights.Forget(InstructorReviewsKey(instructorID))
	return deleted
}

func (s *Service) InvalidateUserProfile(ctx context.Context, userID int64) int64 {
	return s.invalidate(ctx, TargetUserProfile, strconv.FormatInt(userID, 10), UserProfileKey(userID))
}

// Flush drops every cached view. Unlike the targeted operations it returns the
// keystore error so an operator triggering it sees the outcome.
func (s *Service) Flush(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "cacheaside.Flush")
	defer span.End()
	if err := s.store.FlushAll(ctx); err != nil {
		span.RecordError(err)
		s.swallow(ctx, "cache flush failed", err, "*", true)
		return err
	}
	logging.FromContext(ctx, s.logger).LogAttrs(ctx, slog.LevelInfo, "cache flushed")
	return nil
}

func (s *Service) invalidate(ctx context.Context, target, id, key string) int64 {
	ctx, span := s.tracer.Start(ctx, "cacheaside.Invalidate", trace.WithAttributes(
		attribute.String("cache.target", target),
		attribute.String("cache.key", key),
	))
	defer span.End()

	deleted, err := s.store.Del(ctx, key)
	s.flights.Forget(key)
	s.metrics.ObserveInvalidation(target, deleted, err != nil)
	if err != nil {
		span.RecordError(err)
		s.reportInvalidation(ctx, target, id, key, err)
		return deleted
	}
	span.SetAttributes(attribute.Int64("cache.deleted", deleted))
	return deleted
}

func (s *Service) invalidatePattern(ctx context.Context, target, id, pattern string) int64 {
	ctx, span := s.tracer.Start(ctx, "cacheaside.InvalidatePattern", trace.WithAttributes(
		attribute.String("cache.target", target),
		attribute.String("cache.pattern", pattern),
	))
	defer span.End()

	deleted, err := s.store.DelByPattern(ctx, pattern)
	s.metrics.ObserveInvalidation(target, deleted, err != nil)
	if err != nil {
		span.RecordError(err)
		s.reportInvalidation(ctx, target, id, pattern, err)
	}
	span.SetAttributes(attribute.Int64("cache.deleted", deleted))
	return deleted
}

func (s *Service) reportInvalidation(ctx context.Context, target, id, key string, err error) {
	logging.FromContext(ctx, s.logger).LogAttrs(ctx, slog.LevelWarn, "cache invalidation failed",
		slog.String("target", target),
		slog.String("entity_id", id),
		slog.String("cache_key", key),
		slog.Any("error", err),
	)
	s.reporter.Report(ctx, err, map[string]string{
		"event":     "cache invalidation failed",
		"target":    target,
		"entity_id": id,
		"cache_key": key,
	})
}
