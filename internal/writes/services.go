package writes

import (
	"context"

	"github.com/l0p7/coursemart/internal/domain"
)

type CourseService struct {
	store       Store
	invalidator *Invalidator
}

func NewCourseService(store Store, invalidator *Invalidator) *CourseService {
	return &CourseService{store: store, invalidator: invalidator}
}

func (s *CourseService) Create(ctx context.Context, in domain.NewCourse) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	id, affected, err := s.store.CreateCourse(ctx, in)
	if err != nil {
		return 0, err
	}
	s.invalidator.Run(ctx, OpCourseCreate, affected)
	return id, nil
}

func (s *CourseService) Update(ctx context.Context, courseID int64, in domain.CourseUpdate) error {
	if err := in.Validate(); err != nil {
		return err
	}
	affected, err := s.store.UpdateCourse(ctx, courseID, in)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpCourseUpdate, affected)
	return nil
}

func (s *CourseService) Publish(ctx context.Context, courseID int64, published bool) error {
	affected, err := s.store.SetCoursePublished(ctx, courseID, published)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpCoursePublish, affected)
	return nil
}

func (s *CourseService) AddLesson(ctx context.Context, courseID int64, in domain.NewLesson) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	id, affected, err := s.store.CreateLesson(ctx, courseID, in)
	if err != nil {
		return 0, err
	}
	s.invalidator.Run(ctx, OpLessonCreate, affected)
	return id, nil
}

func (s *CourseService) DeleteLesson(ctx context.Context, courseID, lessonID int64) error {
	affected, err := s.store.DeleteLesson(ctx, courseID, lessonID)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpLessonDelete, affected)
	return nil
}

func (s *CourseService) AddReview(ctx context.Context, courseID int64, in domain.NewReview) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	id, affected, err := s.store.CreateReview(ctx, courseID, in)
	if err != nil {
		return 0, err
	}
	s.invalidator.Run(ctx, OpReviewCreate, affected)
	return id, nil
}

type UserService struct {
	store       Store
	invalidator *Invalidator
}

func NewUserService(store Store, invalidator *Invalidator) *UserService {
	return &UserService{store: store, invalidator: invalidator}
}

func (s *UserService) UpdateProfile(ctx context.Context, userID int64, in domain.ProfileUpdate) error {
	if err := in.Validate(); err != nil {
		return err
	}
	affected, err := s.store.UpdateProfile(ctx, userID, in)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpProfileUpdate, affected)
	return nil
}

func (s *UserService) Enroll(ctx context.Context, userID, courseID int64) error {
	affected, err := s.store.Enroll(ctx, userID, courseID)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpEnroll, affected)
	return nil
}

func (s *UserService) AddToWishlist(ctx context.Context, userID, courseID int64) error {
	affected, err := s.store.AddToWishlist(ctx, userID, courseID)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpWishlistAdd, affected)
	return nil
}

func (s *UserService) RemoveFromWishlist(ctx context.Context, userID, courseID int64) error {
	affected, err := s.store.RemoveFromWishlist(ctx, userID, courseID)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpWishlistRemove, affected)
	return nil
}

type PaymentService struct {
	store       Store
	invalidator *Invalidator
}

func NewPaymentService(store Store, invalidator *Invalidator) *PaymentService {
	return &PaymentService{store: store, invalidator: invalidator}
}

// Complete marks a payment completed and enrolls the buyer in the course.
// Completing an already completed payment succeeds again.
func (s *PaymentService) Complete(ctx context.Context, paymentID int64) error {
	affected, err := s.store.CompletePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	s.invalidator.Run(ctx, OpPaymentComplete, affected)
	return nil
}
