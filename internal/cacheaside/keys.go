package cacheaside

import (
	"strconv"
	"strings"
)

// Keys are deterministic functions of (entity type, entity id, view variant).
// Every key for one instructor shares the "instructor:<id>" prefix so the
// whole family can be removed with InstructorPattern.

func AllCoursesKey() string {
	return "courses:all"
}

func CourseKey(id int64) string {
	return "course:" + strconv.FormatInt(id, 10)
}

func InstructorKey(id int64) string {
	return "instructor:" + strconv.FormatInt(id, 10)
}

func InstructorReviewsKey(id int64) string {
	return InstructorKey(id) + ":reviews"
}

// InstructorPattern matches every derived view of one instructor, but not the
// bare instructor key itself.
func InstructorPattern(id int64) string {
	return InstructorKey(id) + ":*"
}

func UserProfileKey(id int64) string {
	return "user:" + strconv.FormatInt(id, 10) + ":comprehensive"
}

// ViewOf derives a low-cardinality view label from a key by dropping the id
// segment: "instructor:5:reviews" -> "instructor_reviews".
func ViewOf(key string) string {
	parts := strings.Split(key, ":")
	switch len(parts) {
	case 0:
		return "unknown"
	case 1, 2:
		return parts[0]
	default:
		return parts[0] + "_" + strings.Join(parts[2:], "_")
	}
}
