package middleware

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced by "[REDACTED]" in addition to the defaults
	// (credentials, cookies, and the signature headers senders attach to
	// webhook deliveries).
	MaskHeaders []string
}

var defaultMaskedHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"x-hub-signature",
	"x-hub-signature-256",
	"x-slack-signature",
	"x-signature-ed25519",
}

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	tokenRE = regexp.MustCompile(`(?i)\b((?:access_|refresh_)?token|code|secret)=[^&\s]+`)
)

// redact scrubs e-mail addresses and token-like query values.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = tokenRE.ReplaceAllString(s, "$1=[REDACTED]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger installs a request-scoped zerolog logger and writes one
// access log line per request. Sensitive headers are masked and the query
// string is scrubbed before anything is logged. Route parameters naming an
// area or hook job are attached as fields.
//
// The line is logged at warn for 4xx and error for 5xx responses.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(defaultMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range slices.Concat(defaultMaskedHeaders, opts.MaskHeaders) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		lc := log.With().
			Str("request_id", asString(c.Value(requestIDKey))).
			Str("method", c.Request.Method).
			Str("path", path)
		if id := c.Param("id"); id != "" {
			lc = lc.Str("area_id", id)
		}
		if id := c.Param("hookJobId"); id != "" {
			lc = lc.Str("hook_job_id", id)
		} else if id := c.Param("hookId"); id != "" {
			lc = lc.Str("hook_job_id", id)
		}
		l := lc.Logger()
		c.Set(loggerKey, &l)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}
		query := redact(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("remote_ip", c.ClientIP()).
			Interface("headers", headers).
			Msg("http_request")
	}
}
