// Package writes holds the course, user and payment write paths. Every write
// mutates the relational store first and then runs the invalidations declared
// for its Operation in the registry below.
package writes

import (
	"context"
	"log/slog"
	"slices"

	"github.com/l0p7/coursemart/internal/cacheaside"
	"github.com/l0p7/coursemart/internal/logging"
)

type Operation string

const (
	OpCourseCreate    Operation = "course.create"
	OpCourseUpdate    Operation = "course.update"
	OpCoursePublish   Operation = "course.publish"
	OpLessonCreate    Operation = "lesson.create"
	OpLessonDelete    Operation = "lesson.delete"
	OpReviewCreate    Operation = "review.create"
	OpPaymentComplete Operation = "payment.complete"
	OpProfileUpdate   Operation = "profile.update"
	OpEnroll          Operation = "enrollment.create"
	OpWishlistAdd     Operation = "wishlist.add"
	OpWishlistRemove  Operation = "wishlist.remove"
)

// Affected names the entities a committed write touched. Zero ids are
// skipped by the targets that need them.
type Affected struct {
	CourseID     int64
	InstructorID int64
	UserID       int64
	// CourseIDs lists further courses whose detail view embeds the change,
	// such as every course of an instructor whose name changed.
	CourseIDs []int64
	// InstructorIDs lists further instructors whose views embed the change,
	// such as the instructors of courses a renamed student reviewed.
	InstructorIDs []int64
	// UserIDs lists further users whose profile embeds the change, such as
	// everyone enrolled in or wishlisting an edited course.
	UserIDs []int64
}

func (a Affected) courses() []int64 {
	return merge(a.CourseID, a.CourseIDs)
}

func (a Affected) instructors() []int64 {
	return merge(a.InstructorID, a.InstructorIDs)
}

func (a Affected) users() []int64 {
	return merge(a.UserID, a.UserIDs)
}

// merge returns the non-zero ids, primary first, without duplicates.
func merge(primary int64, more []int64) []int64 {
	ids := make([]int64, 0, len(more)+1)
	if primary != 0 {
		ids = append(ids, primary)
	}
	for _, id := range more {
		if id != 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Invalidations is the set of named invalidation operations a write can run.
// *cacheaside.Service implements it.
type Invalidations interface {
	InvalidateAllCourses(ctx context.Context) int64
	InvalidateCourse(ctx context.Context, courseID int64) int64
	InvalidateInstructor(ctx context.Context, instructorID int64) int64
	InvalidateUserProfile(ctx context.Context, userID int64) int64
}

var _ Invalidations = (*cacheaside.Service)(nil)

type Target struct {
	Name  string
	Apply func(ctx context.Context, inv Invalidations, affected Affected) int64
}

var (
	allCourses = Target{Name: cacheaside.TargetAllCourses, Apply: func(ctx context.Context, inv Invalidations, _ Affected) int64 {
		return inv.InvalidateAllCourses(ctx)
	}}
	// instructorCatalog only refreshes the catalog when the write touched an
	// instructor, whose name is embedded in catalog rows.
	instructorCatalog = Target{Name: cacheaside.TargetAllCourses, Apply: func(ctx context.Context, inv Invalidations, a Affected) int64 {
		if a.InstructorID == 0 {
			return 0
		}
		return inv.InvalidateAllCourses(ctx)
	}}
	course = Target{Name: cacheaside.TargetCourse, Apply: func(ctx context.Context, inv Invalidations, a Affected) int64 {
		var deleted int64
		for _, id := range a.courses() {
			deleted += inv.InvalidateCourse(ctx, id)
		}
		return deleted
	}}
	instructor = Target{Name: cacheaside.TargetInstructor, Apply: func(ctx context.Context, inv Invalidations, a Affected) int64 {
		var deleted int64
		for _, id := range a.instructors() {
			deleted += inv.InvalidateInstructor(ctx, id)
		}
		return deleted
	}}
	userProfile = Target{Name: cacheaside.TargetUserProfile, Apply: func(ctx context.Context, inv Invalidations, a Affected) int64 {
		var deleted int64
		for _, id := range a.users() {
			deleted += inv.InvalidateUserProfile(ctx, id)
		}
		return deleted
	}}
)

// registry declares, per write, every cached view whose content the write can
// change. A new view or a new write must be added here; the registry test
// fails for an operation without targets.
var registry = map[Operation][]Target{
	// The catalog lists courses and the instructor profile embeds them.
	OpCourseCreate: {allCourses, instructor},
	// Title, description and price appear in every course view, including
	// the wishlists and enrollments of the users in Affected.UserIDs.
	OpCourseUpdate: {allCourses, course, instructor, userProfile},
	// Publishing changes catalog composition and the instructor's course list.
	OpCoursePublish: {allCourses, course, instructor},
	// Lessons are embedded in course detail; lesson counts appear in the
	// catalog, the instructor's course summaries and wishlisted summaries.
	OpLessonCreate: {course, allCourses, instructor, userProfile},
	OpLessonDelete: {course, allCourses, instructor, userProfile},
	// Ratings feed course detail, catalog averages, the instructor aggregates,
	// the reviewer's statistics and wishlisted summaries.
	OpReviewCreate: {course, allCourses, instructor, userProfile},
	// Completion enrolls the buyer, which also moves the student count.
	OpPaymentComplete: {userProfile, instructor},
	// Names are embedded in reviews shown on course detail and instructor
	// reviews, and instructor names in catalog rows and wishlisted summaries.
	OpProfileUpdate:  {userProfile, instructor, instructorCatalog, course},
	OpEnroll:         {userProfile, instructor},
	OpWishlistAdd:    {userProfile},
	OpWishlistRemove: {userProfile},
}

// AllOperations lists every declared write operation in a stable order.
func AllOperations() []Operation {
	return []Operation{
		OpCourseCreate,
		OpCourseUpdate,
		OpCoursePublish,
		OpLessonCreate,
		OpLessonDelete,
		OpReviewCreate,
		OpPaymentComplete,
		OpProfileUpdate,
		OpEnroll,
		OpWishlistAdd,
		OpWishlistRemove,
	}
}

// Targets returns the invalidations declared for op.
func Targets(op Operation) []Target {
	return slices.Clone(registry[op])
}

// Invalidator runs the declared targets of an operation.
type Invalidator struct {
	inv    Invalidations
	logger *slog.Logger
}

func NewInvalidator(inv Invalidations, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{inv: inv, logger: logger.With(slog.String("agent", "invalidator"))}
}

// Run must only be called after op's mutation committed. It never fails;
// failures are handled inside each invalidation.
func (i *Invalidator) Run(ctx context.Context, op Operation, affected Affected) int64 {
	var deleted int64
	for _, target := range registry[op] {
		deleted += target.Apply(ctx, i.inv, affected)
	}
	logging.FromContext(ctx, i.logger).LogAttrs(ctx, slog.LevelDebug, "write invalidated cached views",
		slog.String("operation", string(op)),
		slog.Int64("course_id", affected.CourseID),
		slog.Int64("instructor_id", affected.InstructorID),
		slog.Int64("user_id", affected.UserID),
		slog.Int("related_courses", len(affected.CourseIDs)),
		slog.Int("related_instructors", len(affected.InstructorIDs)),
		slog.Int("related_users", len(affected.UserIDs)),
		slog.Int64("deleted", deleted),
	)
	return deleted
}
