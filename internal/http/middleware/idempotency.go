package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key on POSTs.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for the request's key.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet; nil means token characters.
	Pattern *regexp.Regexp
	// ScopeParam names the route parameter that scopes keys (the parent
	// resource of the POST); empty means "id".
	ScopeParam string
}

// IdempotencyLookup reports whether a still-valid result is stored for
// (userID, scopeID, key). Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scopeID, key string, now time.Time) (bool, error)

// IdempotencyValidator validates the Idempotency-Key header and stashes it
// for handlers. When lookup finds a stored result the request is flagged as
// a replay and exempted from rate limiting; the handler serves the replay.
// Requests without the header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scope := opts.ScopeParam
	if scope == "" {
		scope = "id"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			found, err := lookup(c.Request.Context(), requestUser(c), c.Param(scope), key, time.Now().UTC())
			if err == nil && found {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// requestUser resolves the caller the same way the handlers do: context
// "userID", then the X-User-ID header, then "demo-user".
func requestUser(c *gin.Context) string {
	if s := asString(c.Value("userID")); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.GetHeader("X-User-ID")); s != "" {
		return s
	}
	return "demo-user"
}
