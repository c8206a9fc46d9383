package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/apperr"
)

// RateLimiter allows at most limit calls per key in each fixed window. A
// key's window opens on its first call.
type RateLimiter struct {
	limit int
	size  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	opened time.Time
	used   int
}

func (b bucket) expired(now time.Time, size time.Duration) bool {
	return now.Sub(b.opened) > size
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, window, time.Now)
}

func NewRateLimiterWithNow(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		size:    window,
		now:     now,
		buckets: make(map[string]bucket),
		stop:    make(chan struct{}),
	}
	if window > 0 {
		go rl.sweepEvery(window)
	}
	return rl
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweepEvery(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-t.C:
			rl.sweep(rl.now())
		}
	}
}

// sweep forgets keys whose window has passed and returns how many remain.
func (rl *RateLimiter) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.expired(now, rl.size) {
			delete(rl.buckets, key)
		}
	}
	return len(rl.buckets)
}

// Allow counts a call for key and reports whether it fits in the current
// window.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || b.expired(now, rl.size) {
		b = bucket{opened: now}
	}
	if b.used >= rl.limit {
		return false
	}
	b.used++
	rl.buckets[key] = b
	return true
}

// RateLimitByUser limits authenticated requests per user id, falling back to
// the client address. Must run after RequireAuth.
func RateLimitByUser(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := UserIDFromContext(c)
		if !ok {
			key = "ip:" + c.ClientIP()
		}
		if !rl.Allow(key) {
			RespondError(c, apperr.RateLimited("Rate limit exceeded"))
			return
		}
		c.Next()
	}
}
