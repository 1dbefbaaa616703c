package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/services"
	"github.com/tbourn/go-area-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// HookService manages the hook jobs of an area on behalf of its owner.
type HookService interface {
	List(ctx context.Context, userID, areaID string) ([]domain.HookJob, error)
	Get(ctx context.Context, userID, areaID, hookID string) (*domain.HookJob, error)
	Create(ctx context.Context, userID, areaID string, in services.CreateHookInput) (*domain.HookJob, error)
	Update(ctx context.Context, userID, areaID, hookID string, in services.UpdateHookInput) (*domain.HookJob, error)
	Logs(ctx context.Context, userID, areaID, hookID string, limit int) ([]domain.HookLog, error)
	ETag(ctx context.Context, userID, areaID string) (string, error)
}

// WebhookService records inbound deliveries.
type WebhookService interface {
	Receive(ctx context.Context, service, hookJobID string, body []byte) (*domain.HookLog, error)
}

// ExecutionService reads the execution history of an area.
type ExecutionService interface {
	List(ctx context.Context, userID, areaID string, limit int) ([]domain.ExecutionLog, error)
	ETag(ctx context.Context, userID, areaID string) (string, error)
}

// AreaService toggles areas and their reactions.
type AreaService interface {
	SetEnabled(ctx context.Context, userID, areaID string, enabled bool) error
	SetReactionEnabled(ctx context.Context, userID, areaID, reactionID string, enabled bool) error
}

// IdempotencyStore remembers the resource created under an Idempotency-Key,
// scoped by user and parent resource.
type IdempotencyStore interface {
	// Lookup returns the id of the resource stored for the key, or "" when
	// there is none (or it expired).
	Lookup(ctx context.Context, userID, scopeID, key string, now time.Time) (string, error)
	// Remember stores resourceID for the key until ttl elapses.
	Remember(ctx context.Context, userID, scopeID, key, resourceID string, status int, ttl time.Duration) error
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. Idempotency is optional; without
// it Idempotency-Key headers are ignored.
type Deps struct {
	Hooks          HookService
	Webhooks       WebhookService
	Executions     ExecutionService
	Areas          AreaService
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the hook engine.
type Handlers struct {
	hooks      HookService
	webhooks   WebhookService
	executions ExecutionService
	areas      AreaService
	idem       IdempotencyStore
	idemTTL    time.Duration
}

// New constructs Handlers. A zero IdempotencyTTL means 24h.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		hooks:      d.Hooks,
		webhooks:   d.Webhooks,
		executions: d.Executions,
		areas:      d.Areas,
		idem:       d.Idempotency,
		idemTTL:    ttl,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// queryLimit reads ?limit=, bounded to [1, hi]; missing or invalid values
// yield def.
func queryLimit(c *gin.Context, def, hi int) int {
	return utils.ParseLimit(c.Query("limit"), def, hi)
}
