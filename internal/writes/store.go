package writes

import (
	"context"

	"github.com/l0p7/coursemart/internal/domain"
)

// Store performs the relational mutations. Each method reports the entities
// it touched so the caller can invalidate the matching views; a missing
// entity is reported as domain.ErrNotFound.
type Store interface {
	CreateCourse(ctx context.Context, in domain.NewCourse) (int64, Affected, error)
	UpdateCourse(ctx context.Context, courseID int64, in domain.CourseUpdate) (Affected, error)
	SetCoursePublished(ctx context.Context, courseID int64, published bool) (Affected, error)
	CreateLesson(ctx context.Context, courseID int64, in domain.NewLesson) (int64, Affected, error)
	DeleteLesson(ctx context.Context, courseID, lessonID int64) (Affected, error)
	CreateReview(ctx context.Context, courseID int64, in domain.NewReview) (int64, Affected, error)
	CompletePayment(ctx context.Context, paymentID int64) (Affected, error)
	UpdateProfile(ctx context.Context, userID int64, in domain.ProfileUpdate) (Affected, error)
	Enroll(ctx context.Context, userID, courseID int64) (Affected, error)
	AddToWishlist(ctx context.Context, userID, courseID int64) (Affected, error)
	RemoveFromWishlist(ctx context.Context, userID, courseID int64) (Affected, error)
}
