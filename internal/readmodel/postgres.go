package readmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/coursemart/internal/domain"
)

type Postgres struct {
	db     *sqlx.DB
	schema string
	tracer trace.Tracer
}

var _ EntityReadModel = (*Postgres)(nil)

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	return &Postgres{
		db:     db,
		schema: pq.QuoteIdentifier(schema),
		tracer: otel.Tracer("coursemart/readmodel/postgres"),
	}
}

// courseSummarySelect lists the catalog columns; callers append the FROM
// filter and ordering. {s} is replaced with the quoted schema.
const courseSummarySelect = `SELECT
	c.id,
	c.title,
	c.description,
	c.price_cents,
	c.instructor_id,
	u.name AS instructor_name,
	(SELECT COUNT(*) FROM {s}.lessons l WHERE l.course_id = c.id) AS lesson_count,
	COALESCE((SELECT AVG(r.rating) FROM {s}.reviews r WHERE r.course_id = c.id), 0)::float8 AS average_rating,
	(SELECT COUNT(*) FROM {s}.reviews r WHERE r.course_id = c.id) AS review_count,
	c.published,
	c.created_at
FROM {s}.courses c
JOIN {s}.users u ON u.id = c.instructor_id
`

type dbCourseSummary struct {
	ID             int64     `db:"id"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	PriceCents     int64     `db:"price_cents"`
	InstructorID   int64     `db:"instructor_id"`
	InstructorName string    `db:"instructor_name"`
	LessonCount    int       `db:"lesson_count"`
	AverageRating  float64   `db:"average_rating"`
	ReviewCount    int       `db:"review_count"`
	Published      bool      `db:"published"`
	CreatedAt      time.Time `db:"created_at"`
}

func (c dbCourseSummary) toDomain() domain.CourseSummary {
	return domain.CourseSummary{
		ID:             c.ID,
		Title:          c.Title,
		Description:    c.Description,
		PriceCents:     c.PriceCents,
		InstructorID:   c.InstructorID,
		InstructorName: c.InstructorName,
		LessonCount:    c.LessonCount,
		AverageRating:  c.AverageRating,
		ReviewCount:    c.ReviewCount,
		CreatedAt:      c.CreatedAt.UTC(),
	}
}

type dbLesson struct {
	ID              int64  `db:"id"`
	Title           string `db:"title"`
	Position        int    `db:"position"`
	DurationSeconds int    `db:"duration_seconds"`
	VideoURL        string `db:"video_url"`
}

type dbReview struct {
	ID        int64     `db:"id"`
	CourseID  int64     `db:"course_id"`
	UserID    int64     `db:"user_id"`
	UserName  string    `db:"user_name"`
	Rating    int       `db:"rating"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
}

func (r dbReview) toDomain() domain.Review {
	return domain.Review{
		ID:        r.ID,
		CourseID:  r.CourseID,
		UserID:    r.UserID,
		UserName:  r.UserName,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type dbUser struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Bio       string `db:"bio"`
	AvatarURL string `db:"avatar_url"`
	Role      string `db:"role"`
}

func (p *Postgres) q(query string) string {
	return strings.ReplaceAll(query, "{s}", p.schema)
}

func (p *Postgres) start(ctx context.Context, name string, id int64) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "Postgres."+name, trace.WithAttributes(attribute.Int64("entity.id", id)))
}

func fail(span trace.Span, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Postgres) summaries(ctx context.Context, filter string, args ...any) ([]domain.CourseSummary, error) {
	var rows []dbCourseSummary
	if err := p.db.SelectContext(ctx, &rows, p.q(courseSummarySelect+filter), args...); err != nil {
		return nil, err
	}
	out := make([]domain.CourseSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (p *Postgres) FetchAllCourses(ctx context.Context) ([]domain.CourseSummary, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.FetchAllCourses")
	defer span.End()

	courses, err := p.summaries(ctx, "WHERE c.published ORDER BY c.created_at DESC, c.id DESC")
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to fetch courses: %w", err))
	}
	return courses, nil
}

func (p *Postgres) FetchCourseByID(ctx context.Context, courseID int64) (domain.CourseDetail, error) {
	ctx, span := p.start(ctx, "FetchCourseByID", courseID)
	defer span.End()

	var row dbCourseSummary
	err := p.db.GetContext(ctx, &row, p.q(courseSummarySelect+"WHERE c.id = $1"), courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CourseDetail{}, fail(span, fmt.Errorf("course %d: %w", courseID, domain.ErrNotFound))
	}
	if err != nil {
		return domain.CourseDetail{}, fail(span, fmt.Errorf("failed to fetch course %d: %w", courseID, err))
	}

	var lessonRows []dbLesson
	if err := p.db.SelectContext(ctx, &lessonRows, p.q(`SELECT id, title, position, duration_seconds, video_url
		FROM {s}.lessons WHERE course_id = $1 ORDER BY position, id`), courseID); err != nil {
		return domain.CourseDetail{}, fail(span, fmt.Errorf("failed to fetch lessons of course %d: %w", courseID, err))
	}
	lessons := make([]domain.Lesson, 0, len(lessonRows))
	for _, row := range lessonRows {
		lessons = append(lessons, domain.Lesson(row))
	}

	reviews, err := p.reviews(ctx, "r.course_id = $1", courseID)
	if err != nil {
		return domain.CourseDetail{}, fail(span, fmt.Errorf("failed to fetch reviews of course %d: %w", courseID, err))
	}

	return domain.CourseDetail{
		CourseSummary: row.toDomain(),
		Published:     row.Published,
		Lessons:       lessons,
		Reviews:       reviews,
	}, nil
}

func (p *Postgres) reviews(ctx context.Context, filter string, args ...any) ([]domain.Review, error) {
	var rows []dbReview
	err := p.db.SelectContext(ctx, &rows, p.q(`SELECT r.id, r.course_id, r.user_id, u.name AS user_name, r.rating, r.comment, r.created_at
		FROM {s}.reviews r
		JOIN {s}.users u ON u.id = r.user_id
		JOIN {s}.courses c ON c.id = r.course_id
		WHERE `+filter+`
		ORDER BY r.created_at DESC, r.id DESC`), args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Review, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (p *Postgres) instructor(ctx context.Context, instructorID int64) (dbUser, error) {
	var user dbUser
	err := p.db.GetContext(ctx, &user, p.q(`SELECT id, name, email, bio, avatar_url, role
		FROM {s}.users WHERE id = $1 AND role = 'instructor'`), instructorID)
	if errors.Is(err, sql.ErrNoRows) {
		return dbUser{}, fmt.Errorf("instructor %d: %w", instructorID, domain.ErrNotFound)
	}
	if err != nil {
		return dbUser{}, fmt.Errorf("failed to fetch instructor %d: %w", instructorID, err)
	}
	return user, nil
}

func (p *Postgres) FetchInstructorProfile(ctx context.Context, instructorID int64) (domain.InstructorProfile, error) {
	ctx, span := p.start(ctx, "FetchInstructorProfile", instructorID)
	defer span.End()

	user, err := p.instructor(ctx, instructorID)
	if err != nil {
		return domain.InstructorProfile{}, fail(span, err)
	}

	courses, err := p.summaries(ctx, "WHERE c.instructor_id = $1 AND c.published ORDER BY c.created_at DESC, c.id DESC", instructorID)
	if err != nil {
		return domain.InstructorProfile{}, fail(span, fmt.Errorf("failed to fetch courses of instructor %d: %w", instructorID, err))
	}

	var stats struct {
		Students int     `db:"students"`
		Rating   float64 `db:"rating"`
	}
	err = p.db.GetContext(ctx, &stats, p.q(`SELECT
		(SELECT COUNT(DISTINCT e.user_id) FROM {s}.enrollments e JOIN {s}.courses c ON c.id = e.course_id WHERE c.instructor_id = $1) AS students,
		COALESCE((SELECT AVG(r.rating) FROM {s}.reviews r JOIN {s}.courses c ON c.id = r.course_id WHERE c.instructor_id = $1), 0)::float8 AS rating`),
		instructorID)
	if err != nil {
		return domain.InstructorProfile{}, fail(span, fmt.Errorf("failed to aggregate instructor %d: %w", instructorID, err))
	}

	return domain.InstructorProfile{
		ID:            user.ID,
		Name:          user.Name,
		Bio:           user.Bio,
		AvatarURL:     user.AvatarURL,
		Courses:       courses,
		StudentCount:  stats.Students,
		AverageRating: stats.Rating,
	}, nil
}

func (p *Postgres) FetchInstructorReviews(ctx context.Context, instructorID int64) (domain.InstructorReviews, error) {
	ctx, span := p.start(ctx, "FetchInstructorReviews", instructorID)
	defer span.End()

	if _, err := p.instructor(ctx, instructorID); err != nil {
		return domain.InstructorReviews{}, fail(span, err)
	}

	reviews, err := p.reviews(ctx, "c.instructor_id = $1", instructorID)
	if err != nil {
		return domain.InstructorReviews{}, fail(span, fmt.Errorf("failed to fetch reviews of instructor %d: %w", instructorID, err))
	}

	var sum int
	for _, review := range reviews {
		sum += review.Rating
	}
	out := domain.InstructorReviews{
		InstructorID: instructorID,
		Reviews:      reviews,
		TotalReviews: len(reviews),
	}
	if len(reviews) > 0 {
		out.AverageRating = float64(sum) / float64(len(reviews))
	}
	return out, nil
}

type dbEnrollment struct {
	CourseID   int64     `db:"course_id"`
	Title      string    `db:"title"`
	EnrolledAt time.Time `db:"enrolled_at"`
}

type dbPayment struct {
	ID          int64      `db:"id"`
	CourseID    int64      `db:"course_id"`
	AmountCents int64      `db:"amount_cents"`
	Status      string     `db:"status"`
	CompletedAt *time.Time `db:"completed_at"`
}

func (p *Postgres) FetchComprehensiveUserProfile(ctx context.Context, userID int64) (domain.UserProfile, error) {
	ctx, span := p.start(ctx, "FetchComprehensiveUserProfile", userID)
	defer span.End()

	var user dbUser
	err := p.db.GetContext(ctx, &user, p.q(`SELECT id, name, email, bio, avatar_url, role FROM {s}.users WHERE id = $1`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, fail(span, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound))
	}
	if err != nil {
		return domain.UserProfile{}, fail(span, fmt.Errorf("failed to fetch user %d: %w", userID, err))
	}

	var enrollmentRows []dbEnrollment
	if err := p.db.SelectContext(ctx, &enrollmentRows, p.q(`SELECT e.course_id, c.title, e.enrolled_at
		FROM {s}.enrollments e JOIN {s}.courses c ON c.id = e.course_id
		WHERE e.user_id = $1 ORDER BY e.enrolled_at DESC, e.course_id`), userID); err != nil {
		return domain.UserProfile{}, fail(span, fmt.Errorf("failed to fetch enrollments of user %d: %w", userID, err))
	}
	enrollments := make([]domain.Enrollment, 0, len(enrollmentRows))
	for _, row := range enrollmentRows {
		enrollments = append(enrollments, domain.Enrollment{CourseID: row.CourseID, Title: row.Title, EnrolledAt: row.EnrolledAt.UTC()})
	}

	wishlist, err := p.summaries(ctx, "JOIN {s}.wishlist w ON w.course_id = c.id WHERE w.user_id = $1 ORDER BY w.added_at DESC, c.id", userID)
	if err != nil {
		return domain.UserProfile{}, fail(span, fmt.Errorf("failed to fetch wishlist of user %d: %w", userID, err))
	}

	var paymentRows []dbPayment
	if err := p.db.SelectContext(ctx, &paymentRows, p.q(`SELECT id, course_id, amount_cents, status, completed_at
		FROM {s}.payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`), userID); err != nil {
		return domain.UserProfile{}, fail(span, fmt.Errorf("failed to fetch payments of user %d: %w", userID, err))
	}
	payments := make([]domain.Payment, 0, len(paymentRows))
	var spent int64
	for _, row := range paymentRows {
		payment := domain.Payment{ID: row.ID, CourseID: row.CourseID, AmountCents: row.AmountCents, Status: row.Status}
		if row.CompletedAt != nil {
			completed := row.CompletedAt.UTC()
			payment.CompletedAt = &completed
			spent += row.AmountCents
		}
		payments = append(payments, payment)
	}

	var reviewsWritten int
	if err := p.db.GetContext(ctx, &reviewsWritten, p.q(`SELECT COUNT(*) FROM {s}.reviews WHERE user_id = $1`), userID); err != nil {
		return domain.UserProfile{}, fail(span, fmt.Errorf("failed to count reviews of user %d: %w", userID, err))
	}

	return domain.UserProfile{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Bio:         user.Bio,
		Role:        user.Role,
		Enrollments: enrollments,
		Wishlist:    wishlist,
		Payments:    payments,
		Stats: domain.UserStatistics{
			EnrolledCourses: len(enrollments),
			WishlistSize:    len(wishlist),
			ReviewsWritten:  reviewsWritten,
			TotalSpentCents: spent,
		},
	}, nil
}
