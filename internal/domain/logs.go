package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Event sources recorded on a HookLog.
const (
	HookSourcePolling = "polling"
	HookSourceWebhook = "webhook"
)

// HookLog is an immutable record of one captured trigger occurrence. It keeps
// a soft reference to its HookJob so it survives the job's deletion.
// EnqueuedAt is set once its execution job is accepted by the queue; a nil
// value marks a log the redelivery sweep still has to hand over.
type HookLog struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	HookJobID    string         `json:"hook_job_id"   gorm:"type:char(36);not null;index:idx_hook_logs_job,priority:1"`
	Source       string         `json:"source"        gorm:"type:varchar(16);not null"`
	EventPayload datatypes.JSON `json:"event_payload" gorm:"not null"`
	DetectedAt   time.Time      `json:"detected_at"   gorm:"not null;index:idx_hook_logs_job,priority:2"`
	EnqueuedAt   *time.Time     `json:"enqueued_at,omitempty" gorm:"index"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName returns the database table name for HookLog.
func (HookLog) TableName() string { return "hook_logs" }

// ExecutionStatus is the outcome of one reaction invocation.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
)

// ExecutionLog records one reaction invocation. Rows are written once by the
// executor and never updated.
type ExecutionLog struct {
	ID              string          `json:"id"               gorm:"type:char(36);primaryKey"`
	AreaID          string          `json:"area_id"          gorm:"type:char(36);not null;index:idx_exec_area_started,priority:1"`
	AreaActionID    string          `json:"area_action_id"   gorm:"type:char(36);not null"`
	AreaReactionID  string          `json:"area_reaction_id" gorm:"type:char(36);not null;index"`
	HookLogID       string          `json:"hook_log_id"      gorm:"type:char(36);not null;index"`
	Status          ExecutionStatus `json:"status"           gorm:"type:varchar(16);not null;check:status IN ('success','failure')"`
	StartedAt       time.Time       `json:"started_at"       gorm:"not null;index:idx_exec_area_started,priority:2"`
	FinishedAt      time.Time       `json:"finished_at"      gorm:"not null"`
	RequestPayload  datatypes.JSON  `json:"request_payload,omitempty"`
	ResponsePayload datatypes.JSON  `json:"response_payload,omitempty"`
	ErrorText       string          `json:"error_text,omitempty" gorm:"type:text"`
}

// TableName returns the database table name for ExecutionLog.
func (ExecutionLog) TableName() string { return "execution_logs" }

// QueueJobStatus is the lifecycle state of a row in the relational queue.
type QueueJobStatus string

const (
	QueuePending   QueueJobStatus = "pending"
	QueueRunning   QueueJobStatus = "running"
	QueueCompleted QueueJobStatus = "completed"
	QueueFailed    QueueJobStatus = "failed"
)

// QueueJob is one entry of the relational work queue. Key is the dedup key
// ("polling-<hookLogId>", "webhook-<hookLogId>"); a second enqueue of the
// same key is a no-op while the row exists.
type QueueJob struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Queue       string         `gorm:"type:varchar(64);not null;index:idx_queue_ready,priority:1"`
	Key         string         `gorm:"type:varchar(128);not null;uniqueIndex"`
	Payload     []byte         `gorm:"not null"`
	Status      QueueJobStatus `gorm:"type:varchar(16);not null;index:idx_queue_ready,priority:2"`
	Attempts    int            `gorm:"not null;default:0"`
	RunAt       time.Time      `gorm:"not null;index:idx_queue_ready,priority:3"`
	LeaseUntil  *time.Time
	LastError   string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time `gorm:"index"`
	FailedAt    *time.Time `gorm:"index"`
}

// TableName returns the database table name for QueueJob.
func (QueueJob) TableName() string { return "queue_jobs" }
