package domain

import "time"

// CourseSummary is one row of the public catalog.
type CourseSummary struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	PriceCents     int64     `json:"priceCents"`
	InstructorID   int64     `json:"instructorId"`
	InstructorName string    `json:"instructorName"`
	LessonCount    int       `json:"lessonCount"`
	AverageRating  float64   `json:"averageRating"`
	ReviewCount    int       `json:"reviewCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Lesson struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Position        int    `json:"position"`
	DurationSeconds int    `json:"durationSeconds"`
	VideoURL        string `json:"videoUrl,omitempty"`
}

type Review struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"courseId"`
	UserID    int64     `json:"userId"`
	UserName  string    `json:"userName"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// CourseDetail embeds the lessons of the course, so lesson writes must
// invalidate the course view as well as the course row itself.
type CourseDetail struct {
	CourseSummary
	Published bool     `json:"published"`
	Lessons   []Lesson `json:"lessons"`
	Reviews   []Review `json:"reviews"`
}

type InstructorProfile struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Bio           string          `json:"bio"`
	AvatarURL     string          `json:"avatarUrl,omitempty"`
	Courses       []CourseSummary `json:"courses"`
	StudentCount  int             `json:"studentCount"`
	AverageRating float64         `json:"averageRating"`
}

// InstructorReviews aggregates reviews across every course taught by one
// instructor.
type InstructorReviews struct {
	InstructorID  int64    `json:"instructorId"`
	Reviews       []Review `json:"reviews"`
	AverageRating float64  `json:"averageRating"`
	TotalReviews  int      `json:"totalReviews"`
}

type Enrollment struct {
	CourseID   int64     `json:"courseId"`
	Title      string    `json:"title"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

type Payment struct {
	ID          int64      `json:"id"`
	CourseID    int64      `json:"courseId"`
	AmountCents int64      `json:"amountCents"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type UserStatistics struct {
	EnrolledCourses int   `json:"enrolledCourses"`
	WishlistSize    int   `json:"wishlistSize"`
	ReviewsWritten  int   `json:"reviewsWritten"`
	TotalSpentCents int64 `json:"totalSpentCents"`
}

// UserProfile is the comprehensive per-user view. It mixes identity fields
// with enrollment, wishlist and payment data.
type UserProfile struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Bio         string          `json:"bio"`
	Role        string          `json:"role"`
	Enrollments []Enrollment    `json:"enrollments"`
	Wishlist    []CourseSummary `json:"wishlist"`
	Payments    []Payment       `json:"payments"`
	Stats       UserStatistics  `json:"stats"`
}
