package reporting

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimited drops reports once a token bucket for the same kind of failure
// runs dry. A keystore outage fails every invalidation in the same way, and
// forwarding each one would flood the upstream channel.
type RateLimited struct {
	next            Reporter
	limiters        *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond float64
	burstSize       int
}

// NewRateLimited wraps next. The returned stop func releases the limiter
// cache and must be called on shutdown.
func NewRateLimited(next Reporter, refillPerSecond float64, burstSize int) (*RateLimited, func()) {
	limiters := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiters.Start()

	return &RateLimited{
		next:            next,
		limiters:        limiters,
		refillPerSecond: refillPerSecond,
		burstSize:       burstSize,
	}, limiters.Stop
}

func (r *RateLimited) Report(ctx context.Context, err error, extras map[string]string) {
	if err == nil {
		return
	}
	if !r.allow(keyFor(err, extras)) {
		return
	}
	r.next.Report(ctx, err, extras)
}

func (r *RateLimited) allow(key string) bool {
	limiter, _ := r.limiters.GetOrSet(key, rate.NewLimiter(rate.Limit(r.refillPerSecond), r.burstSize))
	return limiter.Value().Allow()
}

// keyFor groups reports by event name when the caller supplied one, and by
// the sanitized message otherwise.
func keyFor(err error, extras map[string]string) string {
	if event := extras["event"]; event != "" {
		return "event: " + event
	}
	return "error: " + sanitizeError(err.Error())
}
