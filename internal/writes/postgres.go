package writes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/coursemart/internal/domain"
)

// Postgres implements Store. Multi-statement writes run in one transaction so
// the reported Affected ids match what was committed.
type Postgres struct {
	db     *sqlx.DB
	schema string
	tracer trace.Tracer
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	return &Postgres{
		db:     db,
		schema: pq.QuoteIdentifier(schema),
		tracer: otel.Tracer("coursemart/writes/postgres"),
	}
}

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

func (p *Postgres) q(query string) string {
	return strings.ReplaceAll(query, "{s}", p.schema)
}

func (p *Postgres) inTx(ctx context.Context, name string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, span := p.tracer.Start(ctx, "Postgres."+name)
	defer span.End()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return p.fail(span, fmt.Errorf("%s: failed to begin transaction: %w", name, err))
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return p.fail(span, mapError(name, err))
	}
	if err := tx.Commit(); err != nil {
		return p.fail(span, fmt.Errorf("%s: failed to commit: %w", name, err))
	}
	return nil
}

func (p *Postgres) fail(span trace.Span, err error) error {
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidInput) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// mapError turns constraint violations into domain errors so the caller can
// tell bad input from a broken database.
func mapError(name string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", name, domain.ErrNotFound, pqErr.Constraint)
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: duplicate %s", name, domain.ErrInvalidInput, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, domain.ErrNotFound)
}

func (p *Postgres) courseOwner(ctx context.Context, tx *sqlx.Tx, courseID int64) (int64, bool, error) {
	var row struct {
		InstructorID int64 `db:"instructor_id"`
		Published    bool  `db:"published"`
	}
	err := tx.GetContext(ctx, &row, p.q(`SELECT instructor_id, published FROM {s}.courses WHERE id = $1 FOR UPDATE`), courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, notFound("course", courseID)
	}
	if err != nil {
		return 0, false, err
	}
	return row.InstructorID, row.Published, nil
}

// courseAudience lists the users whose profile embeds courseID, through
// their wishlist or their enrollments.
func (p *Postgres) courseAudience(ctx context.Context, tx *sqlx.Tx, courseID int64) ([]int64, error) {
	var ids []int64
	err := tx.SelectContext(ctx, &ids, p.q(`SELECT user_id FROM {s}.wishlist WHERE course_id = $1
		UNION SELECT user_id FROM {s}.enrollments WHERE course_id = $1
		ORDER BY 1`), courseID)
	return ids, err
}

func (p *Postgres) CreateCourse(ctx context.Context, in domain.NewCourse) (int64, Affected, error) {
	var id int64
	err := p.inTx(ctx, "CreateCourse", func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, p.q(`INSERT INTO {s}.courses (instructor_id, title, description, price_cents)
			SELECT u.id, $2, $3, $4 FROM {s}.users u WHERE u.id = $1 AND u.role = 'instructor'
			RETURNING id`), in.InstructorID, in.Title, in.Description, in.PriceCents).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("instructor", in.InstructorID)
		}
		return err
	})
	if err != nil {
		return 0, Affected{}, err
	}
	return id, Affected{CourseID: id, InstructorID: in.InstructorID}, nil
}

func (p *Postgres) UpdateCourse(ctx context.Context, courseID int64, in domain.CourseUpdate) (Affected, error) {
	affected := Affected{CourseID: courseID}
	err := p.inTx(ctx, "UpdateCourse", func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, p.q(`UPDATE {s}.courses SET
				title = COALESCE($2, title),
				description = COALESCE($3, description),
				price_cents = COALESCE($4, price_cents),
				updated_at = NOW()
			WHERE id = $1
			RETURNING instructor_id`), courseID, in.Title, in.Description, in.PriceCents).Scan(&affected.InstructorID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("course", courseID)
		}
		if err != nil {
			return err
		}
		affected.UserIDs, err = p.courseAudience(ctx, tx, courseID)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return affected, nil
}

func (p *Postgres) SetCoursePublished(ctx context.Context, courseID int64, published bool) (Affected, error) {
	affected := Affected{CourseID: courseID}
	err := p.inTx(ctx, "SetCoursePublished", func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, p.q(`UPDATE {s}.courses SET published = $2, updated_at = NOW()
			WHERE id = $1 RETURNING instructor_id`), courseID, published).Scan(&affected.InstructorID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("course", courseID)
		}
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return affected, nil
}

func (p *Postgres) CreateLesson(ctx context.Context, courseID int64, in domain.NewLesson) (int64, Affected, error) {
	var id int64
	affected := Affected{CourseID: courseID}
	err := p.inTx(ctx, "CreateLesson", func(ctx context.Context, tx *sqlx.Tx) error {
		owner, _, err := p.courseOwner(ctx, tx, courseID)
		if err != nil {
			return err
		}
		affected.InstructorID = owner
		if affected.UserIDs, err = p.courseAudience(ctx, tx, courseID); err != nil {
			return err
		}
		position := in.Position
		if position <= 0 {
			if err := tx.GetContext(ctx, &position, p.q(`SELECT COALESCE(MAX(position), 0) + 1 FROM {s}.lessons WHERE course_id = $1`), courseID); err != nil {
				return err
			}
		}
		return tx.QueryRowxContext(ctx, p.q(`INSERT INTO {s}.lessons (course_id, title, position, duration_seconds, video_url)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`), courseID, in.Title, position, in.DurationSeconds, in.VideoURL).Scan(&id)
	})
	if err != nil {
		return 0, Affected{}, err
	}
	return id, affected, nil
}

func (p *Postgres) DeleteLesson(ctx context.Context, courseID, lessonID int64) (Affected, error) {
	affected := Affected{CourseID: courseID}
	err := p.inTx(ctx, "DeleteLesson", func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, p.q(`DELETE FROM {s}.lessons l USING {s}.courses c
			WHERE l.id = $2 AND l.course_id = $1 AND c.id = l.course_id
			RETURNING c.instructor_id`), courseID, lessonID).Scan(&affected.InstructorID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("lesson", lessonID)
		}
		if err != nil {
			return err
		}
		affected.UserIDs, err = p.courseAudience(ctx, tx, courseID)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return affected, nil
}

func (p *Postgres) CreateReview(ctx context.Context, courseID int64, in domain.NewReview) (int64, Affected, error) {
	var id int64
	affected := Affected{CourseID: courseID, UserID: in.UserID}
	err := p.inTx(ctx, "CreateReview", func(ctx context.Context, tx *sqlx.Tx) error {
		owner, _, err := p.courseOwner(ctx, tx, courseID)
		if err != nil {
			return err
		}
		affected.InstructorID = owner
		if err := tx.QueryRowxContext(ctx, p.q(`INSERT INTO {s}.reviews (course_id, user_id, rating, comment)
			VALUES ($1, $2, $3, $4) RETURNING id`), courseID, in.UserID, in.Rating, in.Comment).Scan(&id); err != nil {
			return err
		}
		affected.UserIDs, err = p.courseAudience(ctx, tx, courseID)
		return err
	})
	if err != nil {
		return 0, Affected{}, err
	}
	return id, affected, nil
}

func (p *Postgres) CompletePayment(ctx context.Context, paymentID int64) (Affected, error) {
	var affected Affected
	err := p.inTx(ctx, "CompletePayment", func(ctx context.Context, tx *sqlx.Tx) error {
		var payment struct {
			UserID   int64  `db:"user_id"`
			CourseID int64  `db:"course_id"`
			Status   string `db:"status"`
		}
		err := tx.GetContext(ctx, &payment, p.q(`SELECT user_id, course_id, status FROM {s}.payments WHERE id = $1 FOR UPDATE`), paymentID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("payment", paymentID)
		}
		if err != nil {
			return err
		}
		if payment.Status == "failed" {
			return fmt.Errorf("payment %d: %w: payment failed", paymentID, domain.ErrInvalidInput)
		}
		if payment.Status != "completed" {
			if _, err := tx.ExecContext(ctx, p.q(`UPDATE {s}.payments SET status = 'completed', completed_at = NOW() WHERE id = $1`), paymentID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, p.q(`INSERT INTO {s}.enrollments (user_id, course_id) VALUES ($1, $2)
			ON CONFLICT (user_id, course_id) DO NOTHING`), payment.UserID, payment.CourseID); err != nil {
			return err
		}
		owner, _, err := p.courseOwner(ctx, tx, payment.CourseID)
		if err != nil {
			return err
		}
		affected = Affected{CourseID: payment.CourseID, InstructorID: owner, UserID: payment.UserID}
		return nil
	})
	if err != nil {
		return Affected{}, err
	}
	return affected, nil
}

// UpdateProfile reports every view embedding the user. A name appears on
// each review the user wrote, and an instructor's name and bio on their
// courses, their profile and the wishlists holding their courses.
func (p *Postgres) UpdateProfile(ctx context.Context, userID int64, in domain.ProfileUpdate) (Affected, error) {
	affected := Affected{UserID: userID}
	err := p.inTx(ctx, "UpdateProfile", func(ctx context.Context, tx *sqlx.Tx) error {
		var role string
		err := tx.QueryRowxContext(ctx, p.q(`UPDATE {s}.users SET
				name = COALESCE($2, name),
				bio = COALESCE($3, bio),
				avatar_url = COALESCE($4, avatar_url),
				updated_at = NOW()
			WHERE id = $1
			RETURNING role`), userID, in.Name, in.Bio, in.AvatarURL).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user", userID)
		}
		if err != nil {
			return err
		}
		if in.Name != nil {
			var reviewed []struct {
				CourseID     int64 `db:"course_id"`
				InstructorID int64 `db:"instructor_id"`
			}
			if err := tx.SelectContext(ctx, &reviewed, p.q(`SELECT DISTINCT r.course_id, c.instructor_id
				FROM {s}.reviews r JOIN {s}.courses c ON c.id = r.course_id
				WHERE r.user_id = $1 ORDER BY r.course_id`), userID); err != nil {
				return err
			}
			for _, row := range reviewed {
				affected.CourseIDs = append(affected.CourseIDs, row.CourseID)
				affected.InstructorIDs = append(affected.InstructorIDs, row.InstructorID)
			}
		}
		if role != "instructor" {
			return nil
		}
		affected.InstructorID = userID
		var own []int64
		if err := tx.SelectContext(ctx, &own, p.q(`SELECT id FROM {s}.courses WHERE instructor_id = $1 ORDER BY id`), userID); err != nil {
			return err
		}
		affected.CourseIDs = append(affected.CourseIDs, own...)
		return tx.SelectContext(ctx, &affected.UserIDs, p.q(`SELECT DISTINCT w.user_id
			FROM {s}.wishlist w JOIN {s}.courses c ON c.id = w.course_id
			WHERE c.instructor_id = $1 ORDER BY w.user_id`), userID)
	})
	if err != nil {
		return Affected{}, err
	}
	return affected, nil
}

func (p *Postgres) Enroll(ctx context.Context, userID, courseID int64) (Affected, error) {
	var instructorID int64
	err := p.inTx(ctx, "Enroll", func(ctx context.Context, tx *sqlx.Tx) error {
		owner, published, err := p.courseOwner(ctx, tx, courseID)
		if err != nil {
			return err
		}
		if !published {
			return fmt.Errorf("course %d: %w: not published", courseID, domain.ErrInvalidInput)
		}
		instructorID = owner
		_, err = tx.ExecContext(ctx, p.q(`INSERT INTO {s}.enrollments (user_id, course_id) VALUES ($1, $2)
			ON CONFLICT (user_id, course_id) DO NOTHING`), userID, courseID)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return Affected{CourseID: courseID, InstructorID: instructorID, UserID: userID}, nil
}

func (p *Postgres) AddToWishlist(ctx context.Context, userID, courseID int64) (Affected, error) {
	err := p.inTx(ctx, "AddToWishlist", func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, p.q(`INSERT INTO {s}.wishlist (user_id, course_id) VALUES ($1, $2)
			ON CONFLICT (user_id, course_id) DO NOTHING`), userID, courseID)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return Affected{CourseID: courseID, UserID: userID}, nil
}

// RemoveFromWishlist succeeds when the course was not on the wishlist.
func (p *Postgres) RemoveFromWishlist(ctx context.Context, userID, courseID int64) (Affected, error) {
	err := p.inTx(ctx, "RemoveFromWishlist", func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, p.q(`DELETE FROM {s}.wishlist WHERE user_id = $1 AND course_id = $2`), userID, courseID)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	return Affected{CourseID: courseID, UserID: userID}, nil
}
