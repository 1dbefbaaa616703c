package domain

import (
	"fmt"
	"time"
)

// HookType is how a HookJob detects events.
type HookType string

const (
	HookTypePolling HookType = "polling"
	HookTypeWebhook HookType = "webhook"
)

// Valid reports whether t is a known hook type.
func (t HookType) Valid() bool { return t == HookTypePolling || t == HookTypeWebhook }

// HookStatus is the lifecycle state of a HookJob.
type HookStatus string

const (
	HookStatusActive   HookStatus = "active"
	HookStatusInactive HookStatus = "inactive"
	HookStatusPaused   HookStatus = "paused"
)

// Valid reports whether s is a known hook status.
func (s HookStatus) Valid() bool {
	switch s {
	case HookStatusActive, HookStatusInactive, HookStatusPaused:
		return true
	}
	return false
}

// Reasons recorded in HookJob.PausedReason.
const (
	PauseReasonFailures     = "consecutive_failures"
	PauseReasonTokenExpired = "token_expired"
	PauseReasonManual       = "manual"
)

// DefaultPollingInterval applies when a polling job is created without one.
const DefaultPollingInterval = 60

// HookJob is the detection configuration for one AreaAction.
//
// Fields:
//   - Type: polling or webhook; fixed at creation.
//   - Status: active|inactive|paused (see CanTransition).
//   - PollingIntervalSeconds: minimum spacing between polls (polling only).
//   - LastCheckedAt: last poll attempt, successful or not; nil means "never".
//   - Cursor: opaque dedup key of the last captured event.
//   - WebhookEndpoint: public URL assigned to webhook jobs.
//   - ConsecutiveFailures / LastError / PausedReason: failure tracking.
type HookJob struct {
	ID                     string     `json:"id"                       gorm:"type:char(36);primaryKey"`
	AreaActionID           string     `json:"area_action_id"           gorm:"type:char(36);not null;index"`
	Type                   HookType   `json:"type"                     gorm:"type:varchar(16);not null;check:type IN ('polling','webhook')"`
	Status                 HookStatus `json:"status"                   gorm:"type:varchar(16);not null;default:'inactive';index:idx_hook_status_type,priority:1"`
	PollingIntervalSeconds int        `json:"polling_interval_seconds" gorm:"not null;default:60"`
	LastCheckedAt          *time.Time `json:"last_checked_at,omitempty"`
	Cursor                 string     `json:"-"                        gorm:"type:text"`
	WebhookEndpoint        string     `json:"webhook_endpoint,omitempty" gorm:"type:varchar(512)"`
	ConsecutiveFailures    int        `json:"consecutive_failures"     gorm:"not null;default:0"`
	LastError              string     `json:"last_error,omitempty"     gorm:"type:text"`
	PausedReason           string     `json:"paused_reason,omitempty"  gorm:"type:varchar(64)"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`

	AreaAction AreaAction `json:"-" gorm:"foreignKey:AreaActionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for HookJob.
func (HookJob) TableName() string { return "hook_jobs" }

// Interval returns the polling interval as a duration, falling back to the
// default for non-positive values.
func (h HookJob) Interval() time.Duration {
	if h.PollingIntervalSeconds <= 0 {
		return DefaultPollingInterval * time.Second
	}
	return time.Duration(h.PollingIntervalSeconds) * time.Second
}

// Due reports whether a polling job should be polled at now.
func (h HookJob) Due(now time.Time) bool {
	if h.Type != HookTypePolling || h.Status != HookStatusActive {
		return false
	}
	if h.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*h.LastCheckedAt) >= h.Interval()
}

// CanTransition reports whether a HookJob may move from one status to another.
//
//	inactive -> active
//	active   -> paused
//	paused   -> active
//	any      -> inactive
//
// Staying in the same status is always allowed.
func CanTransition(from, to HookStatus) bool {
	if from == to {
		return true
	}
	switch to {
	case HookStatusInactive:
		return true
	case HookStatusActive:
		return from == HookStatusInactive || from == HookStatusPaused
	case HookStatusPaused:
		return from == HookStatusActive
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From, To HookStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("hook job cannot move from %s to %s", e.From, e.To)
}
