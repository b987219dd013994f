package domain

import (
	"fmt"
	"strings"
)

type NewCourse struct {
	InstructorID int64  `json:"instructorId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PriceCents   int64  `json:"priceCents"`
}

func (c NewCourse) Validate() error {
	if c.InstructorID <= 0 {
		return fmt.Errorf("%w: instructorId required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if c.PriceCents < 0 {
		return fmt.Errorf("%w: priceCents must not be negative", ErrInvalidInput)
	}
	return nil
}

// CourseUpdate carries optional field changes; nil fields are left untouched.
type CourseUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	PriceCents  *int64  `json:"priceCents,omitempty"`
}

func (u CourseUpdate) Validate() error {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if u.PriceCents != nil && *u.PriceCents < 0 {
		return fmt.Errorf("%w: priceCents must not be negative", ErrInvalidInput)
	}
	return nil
}

type NewLesson struct {
	Title           string `json:"title"`
	Position        int    `json:"position"`
	DurationSeconds int    `json:"durationSeconds"`
	VideoURL        string `json:"videoUrl"`
}

func (l NewLesson) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if l.DurationSeconds < 0 {
		return fmt.Errorf("%w: durationSeconds must not be negative", ErrInvalidInput)
	}
	return nil
}

type NewReview struct {
	UserID  int64  `json:"userId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (r NewReview) Validate() error {
	if r.UserID <= 0 {
		return fmt.Errorf("%w: userId required", ErrInvalidInput)
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	return nil
}

type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

func (p ProfileUpdate) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	return nil
}
