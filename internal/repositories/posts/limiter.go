package posts

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a member's limiter is kept without use.
const idleAfter = 10 * time.Minute

type memberLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// likeLimiter throttles like toggles per member.
type likeLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*memberLimiter
}

func newLikeLimiter(perSecond float64, burst int, now func() time.Time) *likeLimiter {
	return &likeLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      now,
		limiters: make(map[string]*memberLimiter),
	}
}

// allow reports whether email may toggle now.
func (l *likeLimiter) allow(email string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, m := range l.limiters {
		if now.Sub(m.lastAccess) > idleAfter {
			delete(l.limiters, k)
		}
	}
	m, ok := l.limiters[email]
	if !ok {
		m = &memberLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[email] = m
	}
	m.lastAccess = now
	return m.limiter.AllowN(now, 1)
}
