package cacheaside

import "time"

// TTLPolicy is the per-view expiry. Invalidation is the primary consistency
// mechanism; these bound how long a missed invalidation can serve stale data.
type TTLPolicy struct {
	Catalog     time.Duration
	Course      time.Duration
	Instructor  time.Duration
	UserProfile time.Duration
}

// DefaultTTLPolicy mirrors the configuration defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Catalog:     300 * time.Second,
		Course:      600 * time.Second,
		Instructor:  900 * time.Second,
		UserProfile: 600 * time.Second,
	}
}

// PolicyFromSeconds builds a policy from whole-second values; non-positive
// values keep the default for that view.
func PolicyFromSeconds(catalog, course, instructor, userProfile int) TTLPolicy {
	policy := DefaultTTLPolicy()
	if catalog > 0 {
		policy.Catalog = time.Duration(catalog) * time.Second
	}
	if course > 0 {
		policy.Course = time.Duration(course) * time.Second
	}
	if instructor > 0 {
		policy.Instructor = time.Duration(instructor) * time.Second
	}
	if userProfile > 0 {
		policy.UserProfile = time.Duration(userProfile) * time.Second
	}
	return policy
}
