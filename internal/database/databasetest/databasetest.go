// Package databasetest opens an isolated, migrated schema for tests that need
// a real Postgres. Tests are skipped unless COURSEMART_TEST_DATABASE_URL is set.
package databasetest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/coursemart/internal/config"
	"github.com/l0p7/coursemart/internal/database"
)

const EnvDatabaseURL = "COURSEMART_TEST_DATABASE_URL"

// DSN returns the test database URL or skips the test.
func DSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping db tests in short mode.")
	}
	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvDatabaseURL)
	}
	return dsn
}

// Open returns a pool and a freshly migrated schema. The schema is dropped
// when the test ends.
func Open(t *testing.T, schema string) *sqlx.DB {
	t.Helper()
	dsn := DSN(t)
	ctx := t.Context()

	db, err := database.NewPostgresDatabase(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)

	drop := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema))
	db.MustExec(drop)
	t.Cleanup(func() {
		db.MustExec(drop)
		_ = db.Close()
	})

	migrator := database.NewDatabaseMigrator(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, migrator.Migrate(ctx, schema))
	return db
}

// Fixture inserts rows into a migrated schema.
type Fixture struct {
	t      *testing.T
	db     *sqlx.DB
	schema string
}

func NewFixture(t *testing.T, db *sqlx.DB, schema string) *Fixture {
	return &Fixture{t: t, db: db, schema: pq.QuoteIdentifier(schema)}
}

func (f *Fixture) insert(query string, args ...any) int64 {
	f.t.Helper()
	var id int64
	require.NoError(f.t, f.db.QueryRowx(fmt.Sprintf(query, f.schema), args...).Scan(&id))
	return id
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	f.db.MustExec(fmt.Sprintf(query, f.schema), args...)
}

func (f *Fixture) User(name, role string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO %s.users (name, email, role) VALUES ($1, $2, $3) RETURNING id`,
		name, fmt.Sprintf("%s-%d@example.com", name, time.Now().UnixNano()), role)
}

func (f *Fixture) Course(instructorID int64, title string, priceCents int64, published bool) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO %s.courses (instructor_id, title, price_cents, published) VALUES ($1, $2, $3, $4) RETURNING id`,
		instructorID, title, priceCents, published)
}

func (f *Fixture) Lesson(courseID int64, title string, position int) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO %s.lessons (course_id, title, position, duration_seconds) VALUES ($1, $2, $3, 600) RETURNING id`,
		courseID, title, position)
}

func (f *Fixture) Review(courseID, userID int64, rating int, comment string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO %s.reviews (course_id, user_id, rating, comment) VALUES ($1, $2, $3, $4) RETURNING id`,
		courseID, userID, rating, comment)
}

func (f *Fixture) Enroll(userID, courseID int64) {
	f.t.Helper()
	f.exec(`INSERT INTO %s.enrollments (user_id, course_id) VALUES ($1, $2)`, userID, courseID)
}

func (f *Fixture) Wishlist(userID, courseID int64) {
	f.t.Helper()
	f.exec(`INSERT INTO %s.wishlist (user_id, course_id) VALUES ($1, $2)`, userID, courseID)
}

func (f *Fixture) Payment(userID, courseID, amountCents int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO %s.payments (user_id, course_id, amount_cents) VALUES ($1, $2, $3) RETURNING id`,
		userID, courseID, amountCents)
}
