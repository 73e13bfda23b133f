// Package middleware – rate limiting
//
// RateLimiter is an in-memory token bucket per client, built on
// golang.org/x/time/rate. It guards the manual dispatch trigger so that a
// misbehaving client cannot hammer the store with back-to-back sweeps.
// Idle buckets are evicted opportunistically to bound memory.
//
// The limiter is process-local; overlapping sweeps across replicas are
// prevented by the run claim, not by this middleware.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to a bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByClientIP keys buckets by the client address.
func KeyByClientIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl     time.Duration
	gcEvery uint64
	lookups uint64
	nowFn   func() time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst. burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByClientIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		gcEvery:  1000,
		nowFn:    time.Now,
	}
}

// getVisitor returns the limiter for key, creating it on first use. Idle
// entries are swept before the lookup so a stale bucket is replaced rather
// than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.nowFn()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= rl.gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns middleware answering 429 when the caller's bucket is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
