package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

const (
	bucketIdleTTL = 10 * time.Minute // buckets untouched this long are evicted
	evictEvery    = 1024             // allow() calls between eviction sweeps
)

// bucket is a simple in-memory token bucket for one key.
type bucket struct {
	tokens    float64
	lastRefil time.Time
}

// rateLimiter holds per-key buckets.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // maximum token capacity
	calls   int
	now     func() time.Time
}

// newRateLimiter creates a rate limiter with the given requests-per-second
// allowance. The burst capacity is max(10, rps).
func newRateLimiter(rps int) *rateLimiter {
	burst := float64(rps)
	if burst < 10 {
		burst = 10
	}
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// allow returns true when key may proceed and deducts one token from its
// bucket. Idle buckets are swept inline every evictEvery calls.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%evictEvery == 0 {
		cutoff := now.Add(-bucketIdleTTL)
		for k, b := range rl.buckets {
			if b.lastRefil.Before(cutoff) {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, lastRefil: now}
		rl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastRefil).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefil = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimitMiddleware enforces a per-IP token bucket of rps requests per
// second. Clients exceeding the limit receive 429 Too Many Requests.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	return rateLimit(newRateLimiter(rps), func(c *gin.Context) string { return c.ClientIP() })
}

// OperatorRateLimitMiddleware keys the bucket on the authenticated operator
// instead of the IP. Must be placed after JWTMiddleware.
func OperatorRateLimitMiddleware(rps int) gin.HandlerFunc {
	return rateLimit(newRateLimiter(rps), func(c *gin.Context) string {
		if op := GetOperator(c); op != "" {
			return "op:" + op
		}
		return c.ClientIP()
	})
}

func rateLimit(rl *rateLimiter, key func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
