// Area HTTP handlers: execution history and the enable toggles.
//
//   - GET /areas/{id}/executions                          (ETag support)
//   - PUT /areas/{id}/enabled
//   - PUT /areas/{id}/reactions/{reactionId}/enabled
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/services"
)

// ToggleRequest switches an area or a reaction on or off.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required" example:"false"`
}

// ListExecutionsResponse wraps the execution history of an area.
type ListExecutionsResponse struct {
	Executions []domain.ExecutionLog `json:"executions"`
}

// ListExecutions godoc
// @ID          listExecutions
// @Summary     List reaction executions of an area
// @Description Returns one row per reaction invocation, newest first. Supports weak ETag via
// @Description If-None-Match and may return 304.
// @Tags        Areas
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"  example(user123)
// @Param       If-None-Match  header  string  false "ETag from a previous response"
// @Param       id             path    string  true  "Area ID"
// @Param       limit          query   int     false "Max items"  minimum(1) maximum(500) default(100)
//
// @Success     200  {object}  handlers.ListExecutionsResponse
// @Success     304  "Not Modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/executions [get]
func (h *Handlers) ListExecutions(c *gin.Context) {
	ctx := c.Request.Context()
	uid, areaID := userID(c), c.Param("id")

	etag, err := h.executions.ETag(ctx, uid, areaID)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	limit := queryLimit(c, services.DefaultExecutionLimit, services.MaxExecutionLimit)
	items, err := h.executions.List(ctx, uid, areaID, limit)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListExecutionsResponse{Executions: items})
}

// SetAreaEnabled godoc
// @ID          setAreaEnabled
// @Summary     Enable or disable an area
// @Description A disabled area is not polled and its queued executions are skipped.
// @Tags        Areas
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Area ID"
// @Param       body       body    handlers.ToggleRequest  true  "Toggle"
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/enabled [put]
func (h *Handlers) SetAreaEnabled(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled required")
		return
	}
	if err := h.areas.SetEnabled(c.Request.Context(), userID(c), c.Param("id"), *req.Enabled); err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// SetReactionEnabled godoc
// @ID          setReactionEnabled
// @Summary     Enable or disable a reaction of an area
// @Description A disabled reaction is left out of executions.
// @Tags        Areas
// @Accept      json
//
// @Param       X-User-ID   header  string  false "User ID (demo header)"  example(user123)
// @Param       id          path    string  true  "Area ID"
// @Param       reactionId  path    string  true  "Area reaction ID"
// @Param       body        body    handlers.ToggleRequest  true  "Toggle"
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Area owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Area or reaction not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /areas/{id}/reactions/{reactionId}/enabled [put]
func (h *Handlers) SetReactionEnabled(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled required")
		return
	}
	err := h.areas.SetReactionEnabled(c.Request.Context(), userID(c), c.Param("id"), c.Param("reactionId"), *req.Enabled)
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}
