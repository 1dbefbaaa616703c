package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP charges the caller: the authenticated user when known
// (context "userID", then the X-User-ID header), the client IP otherwise.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := asString(c.Value("userID")); s != "" {
			return "user:" + s
		}
		if s := strings.TrimSpace(c.GetHeader("X-User-ID")); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByParam charges the resource named by a route parameter, e.g. the hook
// job a webhook is delivered to. Requests without the parameter fall back to
// the client IP.
func KeyByParam(name string) KeyFunc {
	return func(c *gin.Context) string {
		if v := c.Param(name); v != "" {
			return name + ":" + v
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. Idle buckets are
// evicted every gcEvery lookups once unused for ttl.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  int
	gcEvery  int
	ttl      time.Duration
	now      func() time.Time
}

// NewRateLimiter returns a limiter refilling rps tokens per second with the
// given burst (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		gcEvery:  5000,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so a stale bucket for key is replaced.
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

// IsRateBypass reports whether IdempotencyValidator found a stored result
// for this request, in which case it is not charged.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler answers 429 with Retry-After when the bucket of the request is
// empty. Idempotent replays are never charged.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
