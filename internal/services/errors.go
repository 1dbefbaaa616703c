// Package services holds the application logic behind the HTTP layer: hook
// job management, webhook ingestion, execution history, and area toggles.
// This file centralizes the service-level error values so handlers can map
// them to HTTP status codes consistently.
package services

import "errors"

// Area and hook job errors.
var (
	// ErrAreaNotFound indicates that the area does not exist.
	ErrAreaNotFound = errors.New("area not found")

	// ErrForbidden is returned when the area exists but belongs to another
	// user.
	ErrForbidden = errors.New("area belongs to another user")

	// ErrAreaActionNotFound is returned when the referenced area action does
	// not exist or is not part of the area.
	ErrAreaActionNotFound = errors.New("area action not found in this area")

	// ErrReactionNotFound is returned when a reaction is not part of the area.
	ErrReactionNotFound = errors.New("reaction not found in this area")

	// ErrHookJobNotFound indicates that the hook job does not exist or is not
	// attached to the area.
	ErrHookJobNotFound = errors.New("hook job not found")

	// ErrInvalidType is returned for an unknown hook type or one the catalog
	// action does not support.
	ErrInvalidType = errors.New("invalid hook type")

	// ErrInvalidStatus is returned for an unknown hook status.
	ErrInvalidStatus = errors.New("invalid hook status")

	// ErrInvalidInterval is returned for a non-positive polling interval or an
	// interval sent for a webhook job.
	ErrInvalidInterval = errors.New("invalid polling interval")

	// ErrInvalidTransition wraps a rejected status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when the hook job changed status concurrently.
	ErrConflict = errors.New("hook job was modified concurrently")

	// ErrCredentialsInvalid is returned when a hook job cannot be activated
	// because its connected account holds no usable token.
	ErrCredentialsInvalid = errors.New("connected account credentials are missing or expired")
)

// Webhook ingestion errors.
var (
	// ErrHookNotWebhook is returned when a delivery targets a polling job.
	ErrHookNotWebhook = errors.New("hook job is not a webhook type")

	// ErrHookNotActive is returned when a delivery targets a job that is not
	// active.
	ErrHookNotActive = errors.New("hook job is not active")

	// ErrServiceMismatch is returned when the path service does not match the
	// service of the hook job's action.
	ErrServiceMismatch = errors.New("hook job does not belong to this service")
)
