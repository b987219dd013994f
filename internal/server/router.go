package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/l0p7/coursemart/internal/domain"
	"github.com/l0p7/coursemart/internal/metrics"
	"github.com/l0p7/coursemart/internal/reporting"
)

// Reader serves the cached read views.
type Reader interface {
	Courses(ctx context.Context) ([]domain.CourseSummary, error)
	Course(ctx context.Context, courseID int64) (domain.CourseDetail, error)
	Instructor(ctx context.Context, instructorID int64) (domain.InstructorProfile, error)
	InstructorReviews(ctx context.Context, instructorID int64) (domain.InstructorReviews, error)
	UserProfile(ctx context.Context, userID int64) (domain.UserProfile, error)
}

type CourseWriter interface {
	Create(ctx context.Context, in domain.NewCourse) (int64, error)
	Update(ctx context.Context, courseID int64, in domain.CourseUpdate) error
	Publish(ctx context.Context, courseID int64, published bool) error
	AddLesson(ctx context.Context, courseID int64, in domain.NewLesson) (int64, error)
	DeleteLesson(ctx context.Context, courseID, lessonID int64) error
	AddReview(ctx context.Context, courseID int64, in domain.NewReview) (int64, error)
}

type UserWriter interface {
	UpdateProfile(ctx context.Context, userID int64, in domain.ProfileUpdate) error
	Enroll(ctx context.Context, userID, courseID int64) error
	AddToWishlist(ctx context.Context, userID, courseID int64) error
	RemoveFromWishlist(ctx context.Context, userID, courseID int64) error
}

type PaymentWriter interface {
	Complete(ctx context.Context, paymentID int64) error
}

// CacheAdmin exposes the administrative flush.
type CacheAdmin interface {
	Flush(ctx context.Context) error
}

// HealthCheck probes one dependency. A failing critical check turns /healthz
// into a 503; a failing non-critical one only marks the process degraded.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Dependencies lists what the router dispatches to. Reader is required; a
// nil writer disables its routes.
type Dependencies struct {
	Reader            Reader
	Courses           CourseWriter
	Users             UserWriter
	Payments          PaymentWriter
	Cache             CacheAdmin
	Health            []HealthCheck
	Metrics           *metrics.Recorder
	Reporter          reporting.Reporter
	Logger            *slog.Logger
	CorrelationHeader string
}

type router struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewHandler builds the HTTP routing facade over the read and write services.
func NewHandler(deps Dependencies) (http.Handler, error) {
	if deps.Reader == nil {
		return nil, errors.New("server: reader required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = reporting.Nop{}
	}
	rt := &router{deps: deps, logger: logger.With(slog.String("agent", "router"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /courses", rt.listCourses)
	mux.HandleFunc("GET /courses/{id}", rt.getCourse)
	mux.HandleFunc("GET /instructors/{id}", rt.getInstructor)
	mux.HandleFunc("GET /instructors/{id}/reviews", rt.getInstructorReviews)
	mux.HandleFunc("GET /users/{id}/profile", rt.getUserProfile)

	if deps.Courses != nil {
		mux.HandleFunc("POST /courses", rt.createCourse)
		mux.HandleFunc("PATCH /courses/{id}", rt.updateCourse)
		mux.HandleFunc("POST /courses/{id}/publish", rt.publishCourse)
		mux.HandleFunc("POST /courses/{id}/lessons", rt.createLesson)
		mux.HandleFunc("DELETE /courses/{id}/lessons/{lessonID}", rt.deleteLesson)
		mux.HandleFunc("POST /courses/{id}/reviews", rt.createReview)
	}
	if deps.Users != nil {
		mux.HandleFunc("PATCH /users/{id}", rt.updateProfile)
		mux.HandleFunc("POST /users/{id}/enrollments", rt.enroll)
		mux.HandleFunc("PUT /users/{id}/wishlist/{courseID}", rt.addToWishlist)
		mux.HandleFunc("DELETE /users/{id}/wishlist/{courseID}", rt.removeFromWishlist)
	}
	if deps.Payments != nil {
		mux.HandleFunc("POST /payments/{id}/complete", rt.completePayment)
	}
	if deps.Cache != nil {
		mux.HandleFunc("POST /admin/cache/flush", rt.flushCache)
	}
	mux.HandleFunc("GET /healthz", rt.health)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	return rt.middleware(mux), nil
}

func (rt *router) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := rt.deps.Reader.Courses(r.Context())
	rt.respond(w, r, http.StatusOK, courses, err)
}

func (rt *router) getCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	course, err := rt.deps.Reader.Course(r.Context(), id)
	rt.respond(w, r, http.StatusOK, course, err)
}

func (rt *router) getInstructor(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	profile, err := rt.deps.Reader.Instructor(r.Context(), id)
	rt.respond(w, r, http.StatusOK, profile, err)
}

func (rt *router) getInstructorReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	reviews, err := rt.deps.Reader.InstructorReviews(r.Context(), id)
	rt.respond(w, r, http.StatusOK, reviews, err)
}

func (rt *router) getUserProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	profile, err := rt.deps.Reader.UserProfile(r.Context(), id)
	rt.respond(w, r, http.StatusOK, profile, err)
}

type createdResponse struct {
	ID int64 `json:"id"`
}

func (rt *router) createCourse(w http.ResponseWriter, r *http.Request) {
	var in domain.NewCourse
	if !rt.decode(w, r, &in) {
		return
	}
	id, err := rt.deps.Courses.Create(r.Context(), in)
	rt.respond(w, r, http.StatusCreated, createdResponse{ID: id}, err)
}

func (rt *router) updateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in domain.CourseUpdate
	if !rt.decode(w, r, &in) {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Courses.Update(r.Context(), id, in))
}

type publishRequest struct {
	Published *bool `json:"published"`
}

// publishCourse publishes by default; {"published": false} unpublishes.
func (rt *router) publishCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in publishRequest
	if r.ContentLength != 0 && !rt.decode(w, r, &in) {
		return
	}
	published := true
	if in.Published != nil {
		published = *in.Published
	}
	rt.respondNoContent(w, r, rt.deps.Courses.Publish(r.Context(), id, published))
}

func (rt *router) createLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in domain.NewLesson
	if !rt.decode(w, r, &in) {
		return
	}
	lessonID, err := rt.deps.Courses.AddLesson(r.Context(), id, in)
	rt.respond(w, r, http.StatusCreated, createdResponse{ID: lessonID}, err)
}

func (rt *router) deleteLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	lessonID, ok := rt.pathID(w, r, "lessonID")
	if !ok {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Courses.DeleteLesson(r.Context(), id, lessonID))
}

func (rt *router) createReview(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in domain.NewReview
	if !rt.decode(w, r, &in) {
		return
	}
	reviewID, err := rt.deps.Courses.AddReview(r.Context(), id, in)
	rt.respond(w, r, http.StatusCreated, createdResponse{ID: reviewID}, err)
}

func (rt *router) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in domain.ProfileUpdate
	if !rt.decode(w, r, &in) {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Users.UpdateProfile(r.Context(), id, in))
}

type enrollRequest struct {
	CourseID int64 `json:"courseId"`
}

func (rt *router) enroll(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	var in enrollRequest
	if !rt.decode(w, r, &in) {
		return
	}
	if in.CourseID <= 0 {
		rt.writeError(w, r, fmt.Errorf("%w: courseId required", domain.ErrInvalidInput))
		return
	}
	rt.respondNoContent(w, r, rt.deps.Users.Enroll(r.Context(), id, in.CourseID))
}

func (rt *router) addToWishlist(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	courseID, ok := rt.pathID(w, r, "courseID")
	if !ok {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Users.AddToWishlist(r.Context(), id, courseID))
}

func (rt *router) removeFromWishlist(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	courseID, ok := rt.pathID(w, r, "courseID")
	if !ok {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Users.RemoveFromWishlist(r.Context(), id, courseID))
}

func (rt *router) completePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r, "id")
	if !ok {
		return
	}
	rt.respondNoContent(w, r, rt.deps.Payments.Complete(r.Context(), id))
}

func (rt *router) flushCache(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Cache.Flush(r.Context()); err != nil {
		rt.writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{"error": "cache flush failed: " + err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// health reports every dependency. The keystore is usually registered as
// non-critical since reads fail open without it.
func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(rt.deps.Health))
	for _, check := range rt.deps.Health {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()
		if err == nil {
			checks[check.Name] = "ok"
			continue
		}
		checks[check.Name] = err.Error()
		if check.Critical {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else if status == "ok" {
			status = "degraded"
		}
	}
	rt.writeJSON(w, r, code, map[string]any{
		"status":     status,
		"checks":     checks,
		"observedAt": time.Now().UTC(),
	})
}

func (rt *router) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		rt.writeError(w, r, fmt.Errorf("%w: %s must be a positive integer, got %q", domain.ErrInvalidInput, name, raw))
		return 0, false
	}
	return id, true
}

func (rt *router) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		rt.writeError(w, r, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

func (rt *router) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.writeJSON(w, r, status, payload)
}

func (rt *router) respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors to client statuses. Anything else is a server
// fault and goes to the operator channel.
func (rt *router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		status = 499
		message = "request canceled"
	default:
		rt.deps.Reporter.Report(r.Context(), err, map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	rt.writeJSON(w, r, status, map[string]any{"error": message})
}

func (rt *router) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		requestLogger(r.Context(), rt.logger).Error("response encode failed", slog.Any("error", err))
	}
}
