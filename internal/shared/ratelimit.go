package shared

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiters hands out one token bucket per key.
type RateLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRateLimiters creates a registry allowing rps events per second per key
// with the given burst.
func NewRateLimiters(rps float64, burst int) *RateLimiters {
	return &RateLimiters{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether an event for key may happen now.
func (r *RateLimiters) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// Forget drops the bucket of key; the session sweeper calls it on eviction.
func (r *RateLimiters) Forget(key string) {
	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

// Len returns the number of tracked keys.
func (r *RateLimiters) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
