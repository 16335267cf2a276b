package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per user.
type rateLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// newRateLimiter allows limit events per window per user. limit <= 0 disables limiting.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		return nil
	}
	return &rateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	l, ok := r.buckets[key]
	if !ok {
		l = rate.NewLimiter(r.every, r.burst)
		r.buckets[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}
