package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookResponse acknowledges an accepted delivery.
type WebhookResponse struct {
	Message   string `json:"message" example:"webhook received"`
	HookLogID string `json:"hook_log_id" example:"c0a8012e-7f2b-4d7e-9a43-5b6a1f0e2d11"`
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Receive a webhook delivery
// @Description Records the body as an event of the hook job and queues the area's reactions.
// @Description Non-JSON bodies are stored as {"raw": "..."}; an empty body as {}.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       service    path  string  true  "Service name of the hook job's action"  example(github)
// @Param       hookJobId  path  string  true  "Hook job ID"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Hook job is not an active webhook job"
// @Failure     404  {object}  handlers.ErrorResponse  "Hook job not found"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many deliveries"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhooks/{service}/{hookJobId} [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "webhook body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
		return
	}

	hl, err := h.webhooks.Receive(c.Request.Context(), c.Param("service"), c.Param("hookJobId"), body)
	if err != nil {
		failService(c, err, ErrCodeWebhookFailed)
		return
	}
	ok(c, http.StatusOK, WebhookResponse{Message: "webhook received", HookLogID: hl.ID})
}
