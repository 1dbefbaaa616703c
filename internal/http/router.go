// Package httpapi wires the HTTP transport (Gin) to the hook engine's
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, CORS, security headers, idempotency, and rate limiting.
//
// Two surfaces are mounted:
//   - the public webhook endpoint, /webhooks/:service/:hookJobId, with its own
//     body cap and a rate limit per hook job;
//   - the owner API under cfg.APIBasePath (hook jobs, executions, toggles).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-area-backend/docs"
	"github.com/tbourn/go-area-backend/internal/config"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/http/handlers"
	"github.com/tbourn/go-area-backend/internal/http/middleware"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
	"github.com/tbourn/go-area-backend/internal/services"
)

// hookRepoShim adapts the repository free functions to the
// services.HookRepo interface expected by the HookService.
type hookRepoShim struct{}

// GetArea proxies repo.GetArea.
func (hookRepoShim) GetArea(ctx context.Context, db *gorm.DB, id string) (*domain.Area, error) {
	return repo.GetArea(ctx, db, id)
}

// GetAreaAction proxies repo.GetAreaAction.
func (hookRepoShim) GetAreaAction(ctx context.Context, db *gorm.DB, id string) (*domain.AreaAction, error) {
	return repo.GetAreaAction(ctx, db, id)
}

// GetHookJob proxies repo.GetHookJob.
func (hookRepoShim) GetHookJob(ctx context.Context, db *gorm.DB, id string) (*domain.HookJob, error) {
	return repo.GetHookJob(ctx, db, id)
}

// CreateHookJob proxies repo.CreateHookJob.
func (hookRepoShim) CreateHookJob(ctx context.Context, db *gorm.DB, h *domain.HookJob) error {
	return repo.CreateHookJob(ctx, db, h)
}

// ListHookJobsByArea proxies repo.ListHookJobsByArea.
func (hookRepoShim) ListHookJobsByArea(ctx context.Context, db *gorm.DB, areaID string) ([]domain.HookJob, error) {
	return repo.ListHookJobsByArea(ctx, db, areaID)
}

// TransitionHookJob proxies repo.TransitionHookJob.
func (hookRepoShim) TransitionHookJob(ctx context.Context, db *gorm.DB, id string, from, to domain.HookStatus, reason string) (bool, error) {
	return repo.TransitionHookJob(ctx, db, id, from, to, reason)
}

// UpdatePollingInterval proxies repo.UpdatePollingInterval.
func (hookRepoShim) UpdatePollingInterval(ctx context.Context, db *gorm.DB, id string, seconds int) error {
	return repo.UpdatePollingInterval(ctx, db, id, seconds)
}

// ListHookLogs proxies repo.ListHookLogs.
func (hookRepoShim) ListHookLogs(ctx context.Context, db *gorm.DB, hookJobID string, limit int) ([]domain.HookLog, error) {
	return repo.ListHookLogs(ctx, db, hookJobID, limit)
}

// idempotencyStore keeps Idempotency-Key results in the idempotency table.
type idempotencyStore struct{ db *gorm.DB }

func (s idempotencyStore) Lookup(ctx context.Context, userID, scopeID, key string, now time.Time) (string, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scopeID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.ResourceID, nil
}

// Remember ignores a concurrent duplicate: the first writer wins.
func (s idempotencyStore) Remember(ctx context.Context, userID, scopeID, key, resourceID string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scopeID, key, resourceID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. Accepted webhook deliveries are enqueued on q; creds validates
// connected accounts when hook jobs are activated (nil means no refresh).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. Idempotency validator (before rate limiter to allow bypass on replay)
//  7. Rate limiter (per user/IP, bypass on replay)
//  8. CORS, security headers, and compression
//
// Body size limits are applied per surface.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, q queue.Queue, creds services.CredentialLoader, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Gitlab-Token"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) Idempotency validation (before rate limiting)
	idem := idempotencyStore{db: db}
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, areaID, key string, now time.Time) (bool, error) {
			id, err := idem.Lookup(ctx, userID, areaID, key, now)
			return id != "", err
		},
	))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/queue
	h := handlers.New(handlers.Deps{
		Hooks: services.NewHookService(db, hookRepoShim{}, creds, cfg.PublicBaseURL),
		Webhooks: &services.WebhookService{
			DB:    db,
			Queue: q,
			Log:   log.With().Str("component", "webhooks").Logger(),
		},
		Executions:     &services.ExecutionService{DB: db},
		Areas:          &services.AreaService{DB: db},
		Idempotency:    idem,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Webhooks: public, capped per hook job.
	whMax := cfg.WebhookMaxBody
	if whMax <= 0 {
		whMax = 1 << 20
	}
	whRate := middleware.NewRateLimiter(cfg.WebhookRateRPS, cfg.WebhookRateBurst, middleware.KeyByParam("hookJobId"))
	r.POST("/webhooks/:service/:hookJobId", limitBody(whMax), whRate.Handler(), h.ReceiveWebhook)

	// Owner API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(limitBody(1 << 20))
	{
		// Hook jobs
		api.GET("/areas/:id/hooks", h.ListHooks)
		api.POST("/areas/:id/hooks", h.CreateHook)
		api.PATCH("/areas/:id/hooks/:hookId", h.UpdateHook)
		api.GET("/areas/:id/hooks/:hookId/logs", h.ListHookLogs)

		// Executions and toggles
		api.GET("/areas/:id/executions", h.ListExecutions)
		api.PUT("/areas/:id/enabled", h.SetAreaEnabled)
		api.PUT("/areas/:id/reactions/:reactionId/enabled", h.SetReactionEnabled)
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
