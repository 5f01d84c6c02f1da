package manager

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerLimiter keeps one token bucket per owner.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	refill   time.Duration
	burst    int
}

func newOwnerLimiter(refill time.Duration, burst int) *ownerLimiter {
	return &ownerLimiter{
		limiters: make(map[string]*rate.Limiter),
		refill:   refill,
		burst:    burst,
	}
}

func (l *ownerLimiter) allow(owner string, now time.Time) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[owner]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.refill), l.burst)
		l.limiters[owner] = limiter
	}
	l.mu.Unlock()
	return limiter.AllowN(now, 1)
}
