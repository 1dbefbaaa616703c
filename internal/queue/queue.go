// Package queue is the durable, at-least-once work queue that carries
// execution jobs from event capture to the executor.
//
// Two backends implement Queue: DBQueue keeps jobs in the relational store
// and RedisQueue keeps them in Redis. Both deduplicate on the job key while
// the job is retained, lease claimed jobs so a crashed worker's job is
// re-delivered, and keep finished jobs for a bounded window.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrEmpty is returned by Dequeue when no job is ready.
var ErrEmpty = errors.New("queue: empty")

// Job is one delivery of a queued item. Attempts counts deliveries,
// including this one.
type Job struct {
	ID         string
	Key        string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// Queue is the contract shared by the backends.
type Queue interface {
	// Enqueue stores a job under key. It returns false when a job with the
	// same key is already retained.
	Enqueue(ctx context.Context, key string, payload []byte) (bool, error)
	// Dequeue claims the next ready job or returns ErrEmpty.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack marks a claimed job completed.
	Ack(ctx context.Context, job *Job) error
	// Nack returns a claimed job to the queue, runnable after retryAfter.
	Nack(ctx context.Context, job *Job, retryAfter time.Duration, cause error) error
	// Fail marks a claimed job terminally failed.
	Fail(ctx context.Context, job *Job, cause error) error
	// Purge deletes finished jobs older than their retention window.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Retention bounds how long finished jobs are kept.
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
}

// Permanent marks err as not retryable. The pool fails such jobs on the
// first delivery.
func Permanent(err error) error { return backoff.Permanent(err) }

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Job key prefixes, one per event source.
const (
	SourcePolling = "polling"
	SourceWebhook = "webhook"
)

// Key derives the dedup key of the execution job of a HookLog.
func Key(source, hookLogID string) string { return source + "-" + hookLogID }

// Execution is the payload of an execution job.
type Execution struct {
	HookLogID    string `json:"hook_log_id"`
	AreaActionID string `json:"area_action_id"`
}

// Encode serializes e.
func (e Execution) Encode() ([]byte, error) { return json.Marshal(e) }

// DecodeExecution parses a job payload. A malformed payload can never
// succeed, so the error is permanent.
func DecodeExecution(b []byte) (Execution, error) {
	var e Execution
	if err := json.Unmarshal(b, &e); err != nil {
		return e, Permanent(fmt.Errorf("decode execution job: %w", err))
	}
	if e.HookLogID == "" || e.AreaActionID == "" {
		return e, Permanent(errors.New("decode execution job: missing ids"))
	}
	return e, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
