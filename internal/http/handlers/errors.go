// Package handlers defines the HTTP-layer error codes used across the API and
// the webhook endpoint.
//
// Codes are stable, machine-readable strings that clients branch on; the
// HTTP status alone is not always enough (a 409 may be a rejected status
// transition or a concurrent update). Every error response carries one of
// them in the ErrorResponse envelope:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_transition",
//	  "message": "invalid status transition: inactive -> paused"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-area-backend/internal/services"
)

const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeRateLimited     = "too_many_requests"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeInternal        = "internal_error"

	// Domain-specific:
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeCredentialsInvalid = "credentials_invalid"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeUpdateFailed       = "update_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeWebhookFailed      = "webhook_failed"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// failService maps a service error to its status and code. Errors the
// services do not define are reported as 500 with fallbackCode.
func failService(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrAreaNotFound),
		errors.Is(err, services.ErrHookJobNotFound),
		errors.Is(err, services.ErrReactionNotFound),
		errors.Is(err, services.ErrServiceMismatch):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrAreaActionNotFound),
		errors.Is(err, services.ErrInvalidType),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidInterval),
		errors.Is(err, services.ErrHookNotWebhook),
		errors.Is(err, services.ErrHookNotActive):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrCredentialsInvalid):
		fail(c, http.StatusUnprocessableEntity, ErrCodeCredentialsInvalid, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
