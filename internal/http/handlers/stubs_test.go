package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/http/middleware"
	"github.com/tbourn/go-area-backend/internal/services"
)

// stubHooks satisfies HookService with per-test functions.
type stubHooks struct {
	list   func(ctx context.Context, userID, areaID string) ([]domain.HookJob, error)
	get    func(ctx context.Context, userID, areaID, hookID string) (*domain.HookJob, error)
	create func(ctx context.Context, userID, areaID string, in services.CreateHookInput) (*domain.HookJob, error)
	update func(ctx context.Context, userID, areaID, hookID string, in services.UpdateHookInput) (*domain.HookJob, error)
	logs   func(ctx context.Context, userID, areaID, hookID string, limit int) ([]domain.HookLog, error)
	etag   string
}

func (s stubHooks) List(ctx context.Context, userID, areaID string) ([]domain.HookJob, error) {
	return s.list(ctx, userID, areaID)
}

func (s stubHooks) Get(ctx context.Context, userID, areaID, hookID string) (*domain.HookJob, error) {
	return s.get(ctx, userID, areaID, hookID)
}

func (s stubHooks) Create(ctx context.Context, userID, areaID string, in services.CreateHookInput) (*domain.HookJob, error) {
	return s.create(ctx, userID, areaID, in)
}

func (s stubHooks) Update(ctx context.Context, userID, areaID, hookID string, in services.UpdateHookInput) (*domain.HookJob, error) {
	return s.update(ctx, userID, areaID, hookID, in)
}

func (s stubHooks) Logs(ctx context.Context, userID, areaID, hookID string, limit int) ([]domain.HookLog, error) {
	return s.logs(ctx, userID, areaID, hookID, limit)
}

func (s stubHooks) ETag(context.Context, string, string) (string, error) {
	return s.etag, nil
}

type webhookFunc func(ctx context.Context, service, hookJobID string, body []byte) (*domain.HookLog, error)

func (f webhookFunc) Receive(ctx context.Context, service, hookJobID string, body []byte) (*domain.HookLog, error) {
	return f(ctx, service, hookJobID, body)
}

type stubExecutions struct {
	etag  string
	err   error
	items []domain.ExecutionLog
	limit int
}

func (s *stubExecutions) List(_ context.Context, _, _ string, limit int) ([]domain.ExecutionLog, error) {
	s.limit = limit
	return s.items, s.err
}

func (s *stubExecutions) ETag(context.Context, string, string) (string, error) {
	return s.etag, s.err
}

type toggleCall struct {
	user, area, reaction string
	enabled              bool
}

type stubAreas struct {
	calls []toggleCall
	err   error
}

func (s *stubAreas) SetEnabled(_ context.Context, userID, areaID string, enabled bool) error {
	s.calls = append(s.calls, toggleCall{userID, areaID, "", enabled})
	return s.err
}

func (s *stubAreas) SetReactionEnabled(_ context.Context, userID, areaID, reactionID string, enabled bool) error {
	s.calls = append(s.calls, toggleCall{userID, areaID, reactionID, enabled})
	return s.err
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]string
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]string{}} }

func (m *memIdem) Lookup(_ context.Context, userID, scopeID, key string, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[userID+"|"+scopeID+"|"+key], nil
}

func (m *memIdem) Remember(_ context.Context, userID, scopeID, key, resourceID string, _ int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[userID+"|"+scopeID+"|"+key] = resourceID
	return nil
}

// newRouter mounts the handlers the way the API router does.
func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/webhooks/:service/:hookJobId", h.ReceiveWebhook)
	api := r.Group("/api/v1")
	api.GET("/areas/:id/hooks", h.ListHooks)
	api.POST("/areas/:id/hooks", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.CreateHook)
	api.PATCH("/areas/:id/hooks/:hookId", h.UpdateHook)
	api.GET("/areas/:id/hooks/:hookId/logs", h.ListHookLogs)
	api.GET("/areas/:id/executions", h.ListExecutions)
	api.PUT("/areas/:id/enabled", h.SetAreaEnabled)
	api.PUT("/areas/:id/reactions/:reactionId/enabled", h.SetReactionEnabled)
	return r
}
