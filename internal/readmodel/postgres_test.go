package readmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/coursemart/internal/database/databasetest"
	"github.com/l0p7/coursemart/internal/domain"
)

func TestPostgresReadModel(t *testing.T) {
	const schema = "readmodel_test"
	db := databasetest.Open(t, schema)
	fx := databasetest.NewFixture(t, db, schema)
	rm := NewPostgres(db, schema)
	ctx := t.Context()

	rob := fx.User("rob", "instructor")
	ken := fx.User("ken", "instructor")
	ada := fx.User("ada", "student")
	grace := fx.User("grace", "student")

	goCourse := fx.Course(rob, "Concurrency in Go", 4999, true)
	draft := fx.Course(rob, "Generics deep dive", 2999, false)
	cCourse := fx.Course(ken, "C for Gophers", 1999, true)

	fx.Lesson(goCourse, "Channels", 2)
	fx.Lesson(goCourse, "Goroutines", 1)
	fx.Review(goCourse, ada, 5, "great")
	fx.Review(goCourse, grace, 4, "good")
	fx.Review(cCourse, ada, 3, "ok")
	fx.Enroll(ada, goCourse)
	fx.Enroll(grace, goCourse)
	fx.Wishlist(ada, cCourse)
	payment := fx.Payment(ada, goCourse, 4999)
	db.MustExec(`UPDATE "readmodel_test".payments SET status = 'completed', completed_at = NOW() WHERE id = $1`, payment)
	fx.Payment(ada, cCourse, 1999)

	t.Run("FetchAllCourses lists published courses only", func(t *testing.T) {
		courses, err := rm.FetchAllCourses(ctx)
		require.NoError(t, err)
		require.Len(t, courses, 2)
		ids := []int64{courses[0].ID, courses[1].ID}
		require.ElementsMatch(t, []int64{goCourse, cCourse}, ids)
		require.NotContains(t, ids, draft)
	})

	t.Run("FetchCourseByID", func(t *testing.T) {
		course, err := rm.FetchCourseByID(ctx, goCourse)
		require.NoError(t, err)
		require.Equal(t, "Concurrency in Go", course.Title)
		require.Equal(t, "rob", course.InstructorName)
		require.True(t, course.Published)
		require.Len(t, course.Lessons, 2)
		require.Equal(t, "Goroutines", course.Lessons[0].Title)
		require.Equal(t, 2, course.LessonCount)
		require.Equal(t, 2, course.ReviewCount)
		require.InDelta(t, 4.5, course.AverageRating, 0.001)
		require.Len(t, course.Reviews, 2)
	})

	t.Run("FetchCourseByID not found", func(t *testing.T) {
		_, err := rm.FetchCourseByID(ctx, 999999)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("FetchInstructorProfile", func(t *testing.T) {
		profile, err := rm.FetchInstructorProfile(ctx, rob)
		require.NoError(t, err)
		require.Equal(t, "rob", profile.Name)
		require.Len(t, profile.Courses, 1)
		require.Equal(t, 2, profile.StudentCount)
		require.InDelta(t, 4.5, profile.AverageRating, 0.001)
	})

	t.Run("FetchInstructorProfile rejects students", func(t *testing.T) {
		_, err := rm.FetchInstructorProfile(ctx, ada)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("FetchInstructorReviews", func(t *testing.T) {
		reviews, err := rm.FetchInstructorReviews(ctx, rob)
		require.NoError(t, err)
		require.Equal(t, rob, reviews.InstructorID)
		require.Equal(t, 2, reviews.TotalReviews)
		require.InDelta(t, 4.5, reviews.AverageRating, 0.001)

		_, err = rm.FetchInstructorReviews(ctx, 999999)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("FetchComprehensiveUserProfile", func(t *testing.T) {
		profile, err := rm.FetchComprehensiveUserProfile(ctx, ada)
		require.NoError(t, err)
		require.Equal(t, "ada", profile.Name)
		require.Len(t, profile.Enrollments, 1)
		require.Len(t, profile.Wishlist, 1)
		require.Equal(t, cCourse, profile.Wishlist[0].ID)
		require.Len(t, profile.Payments, 2)
		require.Equal(t, domain.UserStatistics{
			EnrolledCourses: 1,
			WishlistSize:    1,
			ReviewsWritten:  2,
			TotalSpentCents: 4999,
		}, profile.Stats)

		_, err = rm.FetchComprehensiveUserProfile(ctx, 999999)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}
