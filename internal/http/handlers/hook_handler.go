// Hook job HTTP handlers.
//
// This file exposes the hook jobs of an area:
//   - GET   /areas/{id}/hooks                 (list, ETag support)
//   - POST  /areas/{id}/hooks                 (create, Idempotency-Key replay)
//   - PATCH /areas/{id}/hooks/{hookId}        (status / interval update)
//   - GET   /areas/{id}/hooks/{hookId}/logs   (captured events)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a hook job was already
// created for (user, area, key), the handler returns that job with
// `Idempotency-Replayed: true` instead of creating another one.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/http/middleware"
	"github.com/tbourn/go-area-backend/internal/services"
)

//
// DTOs
//

// CreateHookRequest is the JSON payload for attaching a hook job to the
// action of an area.
type CreateHookRequest struct {
	// AreaActionID must reference the action of the area in the path.
	AreaActionID string `json:"area_action_id" binding:"required" example:"4b1f3c9e-8a7d-4e0b-9c61-2f5d7a9e1c33"`
	// Type is polling or webhook and must be supported by the catalog action.
	Type string `json:"type" binding:"required" example:"polling"`
	// PollingIntervalSeconds applies to polling jobs only (default 60).
	PollingIntervalSeconds *int `json:"polling_interval_seconds,omitempty" example:"60"`
	// Status is inactive (default) or active.
	Status string `json:"status,omitempty" example:"active"`
}

// UpdateHookRequest is the JSON payload for changing a hook job. At least one
// field must be set.
type UpdateHookRequest struct {
	Status                 *string `json:"status,omitempty" example:"paused"`
	PollingIntervalSeconds *int    `json:"polling_interval_seconds,omitempty" example:"300"`
}

// ListHooksResponse wraps the hook jobs of an area.
type ListHooksResponse struct {
	Hooks []domain.HookJob `json:"hooks"`
}

// ListHookLogsResponse wraps the captured events of a hook job.
type ListHookLogsResponse struct {
	Logs []domain.HookLog `json:"logs"`
}

//
// Handlers
//

// ListHooks godoc
// @ID          listHooks
// @Summary     List hook jobs of an area
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Hooks
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"  example(user123)
// @Param       If-None-Match  header  string  false "ETag from a previous response"
// @Param       id             path    string  true  "Area ID"
//
// @Success     200  {object}  handlers.ListHooksResponse
// @Success     304  "Not Modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/hooks [get]
func (h *Handlers) ListHooks(c *gin.Context) {
	ctx := c.Request.Context()
	uid, areaID := userID(c), c.Param("id")

	etag, err := h.hooks.ETag(ctx, uid, areaID)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	if etag != "" {
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	jobs, err := h.hooks.List(ctx, uid, areaID)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListHooksResponse{Hooks: jobs})
}

// CreateHook godoc
// @ID          createHook
// @Summary     Create a hook job
// @Description Attaches a polling or webhook job to the area's action. Webhook jobs get their
// @Description public endpoint in `webhook_endpoint`. Activating requires usable credentials.
// @Description Supports idempotency via the Idempotency-Key header (same key → same job).
// @Tags        Hooks
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Area ID"
// @Param       body             body    handlers.CreateHookRequest  true  "Hook job"
//
// @Success     201  {object}  domain.HookJob
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid type, status, interval or action"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid initial status"
// @Failure     422  {object}  handlers.ErrorResponse  "Credentials missing or expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/hooks [post]
func (h *Handlers) CreateHook(c *gin.Context) {
	ctx := c.Request.Context()
	areaID := c.Param("id")

	var req CreateHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "area_action_id and type are required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		if id, err := h.idem.Lookup(ctx, currentUser, areaID, idemKey, time.Now().UTC()); err == nil && id != "" {
			if prev, err := h.hooks.Get(ctx, currentUser, areaID, id); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusCreated, prev)
				return
			}
		}
	}

	job, err := h.hooks.Create(ctx, currentUser, areaID, services.CreateHookInput{
		AreaActionID:           strings.TrimSpace(req.AreaActionID),
		Type:                   domain.HookType(strings.ToLower(strings.TrimSpace(req.Type))),
		PollingIntervalSeconds: req.PollingIntervalSeconds,
		Status:                 domain.HookStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Remember(ctx, currentUser, areaID, idemKey, job.ID, http.StatusCreated, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("hook_job_id", job.ID).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, job)
}

// UpdateHook godoc
// @ID          updateHook
// @Summary     Update a hook job
// @Description Changes the status through the state machine (inactive→active, active→paused,
// @Description paused→active, any→inactive) and/or the polling interval.
// @Tags        Hooks
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Area ID"
// @Param       hookId     path    string  true  "Hook job ID"
// @Param       body       body    handlers.UpdateHookRequest  true  "Changes"
//
// @Success     200  {object}  domain.HookJob
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status or interval"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area or hook job not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Transition not allowed or concurrent change"
// @Failure     422  {object}  handlers.ErrorResponse  "Credentials missing or expired"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/hooks/{hookId} [patch]
func (h *Handlers) UpdateHook(c *gin.Context) {
	var req UpdateHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Status == nil && req.PollingIntervalSeconds == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status or polling_interval_seconds required")
		return
	}

	in := services.UpdateHookInput{PollingIntervalSeconds: req.PollingIntervalSeconds}
	if req.Status != nil {
		st := domain.HookStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		in.Status = &st
	}

	job, err := h.hooks.Update(c.Request.Context(), userID(c), c.Param("id"), c.Param("hookId"), in)
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, job)
}

// ListHookLogs godoc
// @ID          listHookLogs
// @Summary     List captured events of a hook job
// @Description Returns the latest hook logs, newest first.
// @Tags        Hooks
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Area ID"
// @Param       hookId     path    string  true  "Hook job ID"
// @Param       limit      query   int     false "Max items"  minimum(1) maximum(500) default(50)
//
// @Success     200  {object}  handlers.ListHookLogsResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area or hook job not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/hooks/{hookId}/logs [get]
func (h *Handlers) ListHookLogs(c *gin.Context) {
	limit := queryLimit(c, services.DefaultHookLogLimit, services.MaxHookLogLimit)
	logs, err := h.hooks.Logs(c.Request.Context(), userID(c), c.Param("id"), c.Param("hookId"), limit)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListHookLogsResponse{Logs: logs})
}
