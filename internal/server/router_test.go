package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/coursemart/internal/cacheaside"
	"github.com/l0p7/coursemart/internal/catalog"
	"github.com/l0p7/coursemart/internal/domain"
	"github.com/l0p7/coursemart/internal/keystore"
	"github.com/l0p7/coursemart/internal/metrics"
	"github.com/l0p7/coursemart/internal/readmodel/readmodeltest"
)

type call struct {
	method string
	args   []any
}

type stubWriters struct {
	mu       sync.Mutex
	calls    []call
	err      error
	flushErr error
}

func (s *stubWriters) record(method string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{method: method, args: args})
	return s.err
}

func (s *stubWriters) last(t *testing.T) call {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

func (s *stubWriters) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubWriters) Create(_ context.Context, in domain.NewCourse) (int64, error) {
	return 11, s.record("Create", in)
}

func (s *stubWriters) Update(_ context.Context, id int64, in domain.CourseUpdate) error {
	return s.record("Update", id, in)
}

func (s *stubWriters) Publish(_ context.Context, id int64, published bool) error {
	return s.record("Publish", id, published)
}

func (s *stubWriters) AddLesson(_ context.Context, id int64, in domain.NewLesson) (int64, error) {
	return 21, s.record("AddLesson", id, in)
}

func (s *stubWriters) DeleteLesson(_ context.Context, id, lessonID int64) error {
	return s.record("DeleteLesson", id, lessonID)
}

func (s *stubWriters) AddReview(_ context.Context, id int64, in domain.NewReview) (int64, error) {
	return 31, s.record("AddReview", id, in)
}

func (s *stubWriters) UpdateProfile(_ context.Context, id int64, in domain.ProfileUpdate) error {
	return s.record("UpdateProfile", id, in)
}

func (s *stubWriters) Enroll(_ context.Context, id, courseID int64) error {
	return s.record("Enroll", id, courseID)
}

func (s *stubWriters) AddToWishlist(_ context.Context, id, courseID int64) error {
	return s.record("AddToWishlist", id, courseID)
}

func (s *stubWriters) RemoveFromWishlist(_ context.Context, id, courseID int64) error {
	return s.record("RemoveFromWishlist", id, courseID)
}

func (s *stubWriters) Complete(_ context.Context, id int64) error {
	return s.record("Complete", id)
}

func (s *stubWriters) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushErr
}

func (s *stubWriters) fail(err, flushErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.flushErr = flushErr
}

type healthState struct {
	mu   sync.Mutex
	errs map[string]error
}

func (h *healthState) set(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[name] = err
}

func (h *healthState) check(name string) func(context.Context) error {
	return func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.errs[name]
	}
}

type fixture struct {
	expect  *httpexpect.Expect
	model   *readmodeltest.Fake
	writers *stubWriters
	metrics *metrics.Recorder
	health  *healthState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	model := readmodeltest.NewFake()
	model.Update(func(f *readmodeltest.Fake) {
		f.Catalog = []domain.CourseSummary{{ID: 1, Title: "Concurrency in Go"}}
		f.Courses[1] = domain.CourseDetail{CourseSummary: domain.CourseSummary{ID: 1, Title: "Concurrency in Go"}, Published: true}
		f.Instructors[7] = domain.InstructorProfile{ID: 7, Name: "rob"}
		f.Reviews[7] = domain.InstructorReviews{InstructorID: 7, TotalReviews: 2, AverageRating: 4.5}
		f.Users[3] = domain.UserProfile{ID: 3, Name: "ada"}
	})

	store := keystore.NewMemory()
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	recorder := metrics.NewRecorder(nil)
	cache, err := cacheaside.New(cacheaside.Options{Store: store, Logger: newTestLogger(), Metrics: recorder})
	require.NoError(t, err)

	fx := &fixture{
		model:   model,
		writers: &stubWriters{},
		metrics: recorder,
		health:  &healthState{errs: map[string]error{}},
	}
	handler, err := NewHandler(Dependencies{
		Reader:   catalog.NewReader(cache, model),
		Courses:  fx.writers,
		Users:    fx.writers,
		Payments: fx.writers,
		Cache:    fx.writers,
		Health: []HealthCheck{
			{Name: "database", Critical: true, Check: fx.health.check("database")},
			{Name: "keystore", Check: fx.health.check("keystore")},
		},
		Metrics:           recorder,
		Logger:            newTestLogger(),
		CorrelationHeader: "X-Correlation-ID",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	fx.expect = httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
	return fx
}

func TestNewHandlerRequiresReader(t *testing.T) {
	_, err := NewHandler(Dependencies{})
	require.Error(t, err)
}

func TestReadRoutesServeCachedViews(t *testing.T) {
	fx := newFixture(t)

	fx.expect.GET("/courses").Expect().
		Status(http.StatusOK).
		JSON().Array().Length().IsEqual(1)

	for range 3 {
		fx.expect.GET("/courses/1").Expect().
			Status(http.StatusOK).
			JSON().Object().HasValue("title", "Concurrency in Go").HasValue("published", true)
	}
	require.Equal(t, 1, fx.model.Calls("FetchCourseByID"))

	fx.expect.GET("/instructors/7").Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("name", "rob")
	fx.expect.GET("/instructors/7/reviews").Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("totalReviews", 2)
	fx.expect.GET("/users/3/profile").Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("name", "ada")
}

func TestReadRoutesMapErrors(t *testing.T) {
	fx := newFixture(t)

	fx.expect.GET("/courses/404").Expect().
		Status(http.StatusNotFound).
		JSON().Object().ContainsKey("error")
	fx.expect.GET("/courses/abc").Expect().Status(http.StatusBadRequest)
	fx.expect.GET("/courses/0").Expect().Status(http.StatusBadRequest)
	fx.expect.GET("/instructors/-1").Expect().Status(http.StatusBadRequest)

	fx.model.Update(func(f *readmodeltest.Fake) { f.Err = errors.New("connection reset") })
	fx.expect.GET("/users/3/profile").Expect().
		Status(http.StatusInternalServerError).
		JSON().Object().HasValue("error", "internal server error")
}

func TestCorrelationHeader(t *testing.T) {
	fx := newFixture(t)

	fx.expect.GET("/courses").
		WithHeader("X-Correlation-ID", "abc-123").
		Expect().
		Header("X-Correlation-ID").IsEqual("abc-123")

	generated := fx.expect.GET("/courses").Expect().Header("X-Correlation-ID").Raw()
	require.Len(t, generated, 36)
}

func TestWriteRoutesDispatch(t *testing.T) {
	fx := newFixture(t)

	fx.expect.POST("/courses").
		WithJSON(map[string]any{"instructorId": 7, "title": "Go", "priceCents": 100}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().HasValue("id", 11)
	require.Equal(t, "Create", fx.writers.last(t).method)

	fx.expect.PATCH("/courses/1").WithJSON(map[string]any{"title": "Go 2"}).Expect().Status(http.StatusNoContent)
	got := fx.writers.last(t)
	require.Equal(t, "Update", got.method)
	require.Equal(t, int64(1), got.args[0])

	fx.expect.POST("/courses/1/publish").Expect().Status(http.StatusNoContent)
	require.Equal(t, []any{int64(1), true}, fx.writers.last(t).args)
	fx.expect.POST("/courses/1/publish").WithJSON(map[string]any{"published": false}).Expect().Status(http.StatusNoContent)
	require.Equal(t, []any{int64(1), false}, fx.writers.last(t).args)

	fx.expect.POST("/courses/1/lessons").WithJSON(map[string]any{"title": "Channels"}).Expect().
		Status(http.StatusCreated).JSON().Object().HasValue("id", 21)
	fx.expect.DELETE("/courses/1/lessons/21").Expect().Status(http.StatusNoContent)
	require.Equal(t, []any{int64(1), int64(21)}, fx.writers.last(t).args)

	fx.expect.POST("/courses/1/reviews").WithJSON(map[string]any{"userId": 3, "rating": 5}).Expect().
		Status(http.StatusCreated).JSON().Object().HasValue("id", 31)

	fx.expect.PATCH("/users/3").WithJSON(map[string]any{"bio": "hi"}).Expect().Status(http.StatusNoContent)
	fx.expect.POST("/users/3/enrollments").WithJSON(map[string]any{"courseId": 1}).Expect().Status(http.StatusNoContent)
	require.Equal(t, call{method: "Enroll", args: []any{int64(3), int64(1)}}, fx.writers.last(t))
	fx.expect.PUT("/users/3/wishlist/1").Expect().Status(http.StatusNoContent)
	require.Equal(t, "AddToWishlist", fx.writers.last(t).method)
	fx.expect.DELETE("/users/3/wishlist/1").Expect().Status(http.StatusNoContent)
	require.Equal(t, "RemoveFromWishlist", fx.writers.last(t).method)

	fx.expect.POST("/payments/9/complete").Expect().Status(http.StatusNoContent)
	require.Equal(t, call{method: "Complete", args: []any{int64(9)}}, fx.writers.last(t))
}

func TestWriteRoutesRejectBadBodies(t *testing.T) {
	fx := newFixture(t)

	fx.expect.POST("/courses").WithText("{not json").Expect().Status(http.StatusBadRequest)
	fx.expect.POST("/courses").WithJSON(map[string]any{"unknown": true}).Expect().Status(http.StatusBadRequest)
	fx.expect.POST("/users/3/enrollments").WithJSON(map[string]any{}).Expect().Status(http.StatusBadRequest)
	require.Zero(t, fx.writers.count())
}

func TestWriteRoutesMapServiceErrors(t *testing.T) {
	fx := newFixture(t)

	fx.writers.fail(domain.ErrNotFound, nil)
	fx.expect.POST("/payments/9/complete").Expect().Status(http.StatusNotFound)
	fx.writers.fail(domain.ErrInvalidInput, nil)
	fx.expect.POST("/users/3/enrollments").WithJSON(map[string]any{"courseId": 2}).Expect().Status(http.StatusBadRequest)
}

func TestFlushRoute(t *testing.T) {
	fx := newFixture(t)

	fx.expect.POST("/admin/cache/flush").Expect().Status(http.StatusNoContent)

	fx.writers.fail(nil, keystore.ErrStoreUnavailable)
	fx.expect.POST("/admin/cache/flush").Expect().
		Status(http.StatusServiceUnavailable).
		JSON().Object().Value("error").String().Contains("cache flush failed")
}

func TestHealthRoute(t *testing.T) {
	fx := newFixture(t)

	fx.expect.GET("/healthz").Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")

	fx.health.set("keystore", errors.New("connection refused"))
	obj := fx.expect.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object()
	obj.HasValue("status", "degraded")
	obj.Value("checks").Object().HasValue("keystore", "connection refused")

	fx.health.set("database", errors.New("timeout"))
	fx.expect.GET("/healthz").Expect().
		Status(http.StatusServiceUnavailable).
		JSON().Object().HasValue("status", "unavailable")
}

func TestMetricsRouteLabelsByPattern(t *testing.T) {
	fx := newFixture(t)

	fx.expect.GET("/courses/1").Expect().Status(http.StatusOK)
	fx.expect.GET("/courses/404").Expect().Status(http.StatusNotFound)

	body := fx.expect.GET("/metrics").Expect().Status(http.StatusOK).Body().Raw()
	require.True(t, strings.Contains(body, `coursemart_http_requests_total{route="GET /courses/{id}",status_code="200"} 1`), body)
	require.True(t, strings.Contains(body, `coursemart_http_requests_total{route="GET /courses/{id}",status_code="404"} 1`), body)
	require.True(t, strings.Contains(body, `coursemart_cache_operations_total`), body)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	fx := newFixture(t)
	fx.expect.GET("/nope").Expect().Status(http.StatusNotFound)
	fx.expect.DELETE("/courses").Expect().Status(http.StatusMethodNotAllowed)
}
