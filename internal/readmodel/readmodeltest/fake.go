// Package readmodeltest provides an in-memory EntityReadModel that counts how
// often each view is computed.
package readmodeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/l0p7/coursemart/internal/domain"
)

type Fake struct {
	mu          sync.Mutex
	Catalog     []domain.CourseSummary
	Courses     map[int64]domain.CourseDetail
	Instructors map[int64]domain.InstructorProfile
	Reviews     map[int64]domain.InstructorReviews
	Users       map[int64]domain.UserProfile
	Err         error

	calls map[string]int
}

func NewFake() *Fake {
	return &Fake{
		Courses:     map[int64]domain.CourseDetail{},
		Instructors: map[int64]domain.InstructorProfile{},
		Reviews:     map[int64]domain.InstructorReviews{},
		Users:       map[int64]domain.UserProfile{},
		calls:       map[string]int{},
	}
}

// Calls returns how many times the named Fetch method ran.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Update mutates the fake under its lock.
func (f *Fake) Update(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func lookup[T any](f *Fake, method string, entries map[int64]T, id int64) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	var zero T
	if f.Err != nil {
		return zero, f.Err
	}
	value, ok := entries[id]
	if !ok {
		return zero, fmt.Errorf("%s %d: %w", method, id, domain.ErrNotFound)
	}
	return value, nil
}

func (f *Fake) FetchAllCourses(context.Context) ([]domain.CourseSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FetchAllCourses"]++
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]domain.CourseSummary(nil), f.Catalog...), nil
}

func (f *Fake) FetchCourseByID(_ context.Context, id int64) (domain.CourseDetail, error) {
	return lookup(f, "FetchCourseByID", f.Courses, id)
}

func (f *Fake) FetchInstructorProfile(_ context.Context, id int64) (domain.InstructorProfile, error) {
	return lookup(f, "FetchInstructorProfile", f.Instructors, id)
}

func (f *Fake) FetchInstructorReviews(_ context.Context, id int64) (domain.InstructorReviews, error) {
	return lookup(f, "FetchInstructorReviews", f.Reviews, id)
}

func (f *Fake) FetchComprehensiveUserProfile(_ context.Context, id int64) (domain.UserProfile, error) {
	return lookup(f, "FetchComprehensiveUserProfile", f.Users, id)
}
