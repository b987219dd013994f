// Package readmodel computes the denormalized read views from the relational
// store. Every call is an expensive multi-table read; callers are expected to
// go through the cache-aside layer rather than hit it per request.
package readmodel

import (
	"context"

	"github.com/l0p7/coursemart/internal/domain"
)

// EntityReadModel returns domain.ErrNotFound (wrapped) when the requested id
// does not resolve.
type EntityReadModel interface {
	FetchAllCourses(ctx context.Context) ([]domain.CourseSummary, error)
	FetchCourseByID(ctx context.Context, courseID int64) (domain.CourseDetail, error)
	FetchInstructorProfile(ctx context.Context, instructorID int64) (domain.InstructorProfile, error)
	FetchInstructorReviews(ctx context.Context, instructorID int64) (domain.InstructorReviews, error)
	FetchComprehensiveUserProfile(ctx context.Context, userID int64) (domain.UserProfile, error)
}
