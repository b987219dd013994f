// Package catalog serves every read view through the cache-aside layer.
package catalog

import (
	"context"

	"github.com/l0p7/coursemart/internal/cacheaside"
	"github.com/l0p7/coursemart/internal/domain"
	"github.com/l0p7/coursemart/internal/readmodel"
)

type Reader struct {
	cache *cacheaside.Service
	model readmodel.EntityReadModel
}

func NewReader(cache *cacheaside.Service, model readmodel.EntityReadModel) *Reader {
	return &Reader{cache: cache, model: model}
}

func (r *Reader) Courses(ctx context.Context) ([]domain.CourseSummary, error) {
	return cacheaside.GetOrPopulate(ctx, r.cache, cacheaside.AllCoursesKey(), r.cache.Policy().Catalog, r.model.FetchAllCourses)
}

func (r *Reader) Course(ctx context.Context, courseID int64) (domain.CourseDetail, error) {
	return cacheaside.GetOrPopulate(ctx, r.cache, cacheaside.CourseKey(courseID), r.cache.Policy().Course,
		func(ctx context.Context) (domain.CourseDetail, error) {
			return r.model.FetchCourseByID(ctx, courseID)
		})
}

func (r *Reader) Instructor(ctx context.Context, instructorID int64) (domain.InstructorProfile, error) {
	return cacheaside.GetOrPopulate(ctx, r.cache, cacheaside.InstructorKey(instructorID), r.cache.Policy().Instructor,
		func(ctx context.Context) (domain.InstructorProfile, error) {
			return r.model.FetchInstructorProfile(ctx, instructorID)
		})
}

// InstructorReviews shares the instructor TTL and is removed by the
// instructor pattern invalidation.
func (r *Reader) InstructorReviews(ctx context.Context, instructorID int64) (domain.InstructorReviews, error) {
	return cacheaside.GetOrPopulate(ctx, r.cache, cacheaside.InstructorReviewsKey(instructorID), r.cache.Policy().Instructor,
		func(ctx context.Context) (domain.InstructorReviews, error) {
			return r.model.FetchInstructorReviews(ctx, instructorID)
		})
}

func (r *Reader) UserProfile(ctx context.Context, userID int64) (domain.UserProfile, error) {
	return cacheaside.GetOrPopulate(ctx, r.cache, cacheaside.UserProfileKey(userID), r.cache.Policy().UserProfile,
		func(ctx context.Context) (domain.UserProfile, error) {
			return r.model.FetchComprehensiveUserProfile(ctx, userID)
		})
}
