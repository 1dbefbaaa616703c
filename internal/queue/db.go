package queue

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/repo"
)

// DBQueue stores jobs in the queue_jobs table.
type DBQueue struct {
	db        *gorm.DB
	name      string
	lease     time.Duration
	retention Retention
	now       func() time.Time
}

// NewDBQueue returns a DBQueue for the named queue. Claimed jobs whose lease
// expires are handed out again.
func NewDBQueue(db *gorm.DB, name string, lease time.Duration, retention Retention) *DBQueue {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &DBQueue{db: db, name: name, lease: lease, retention: retention, now: time.Now}
}

// Enqueue implements Queue.
func (q *DBQueue) Enqueue(ctx context.Context, key string, payload []byte) (bool, error) {
	return repo.InsertQueueJob(ctx, q.db, q.name, key, payload, q.now())
}

// Dequeue implements Queue.
func (q *DBQueue) Dequeue(ctx context.Context) (*Job, error) {
	row, err := repo.ClaimQueueJob(ctx, q.db, q.name, q.now(), q.lease)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         row.ID,
		Key:        row.Key,
		Payload:    row.Payload,
		Attempts:   row.Attempts,
		EnqueuedAt: row.CreatedAt,
	}, nil
}

// Ack implements Queue.
func (q *DBQueue) Ack(ctx context.Context, job *Job) error {
	return repo.CompleteQueueJob(ctx, q.db, job.ID, q.now())
}

// Nack implements Queue.
func (q *DBQueue) Nack(ctx context.Context, job *Job, retryAfter time.Duration, cause error) error {
	return repo.RescheduleQueueJob(ctx, q.db, job.ID, q.now().Add(retryAfter), errText(cause))
}

// Fail implements Queue.
func (q *DBQueue) Fail(ctx context.Context, job *Job, cause error) error {
	return repo.FailQueueJob(ctx, q.db, job.ID, q.now(), errText(cause))
}

// Purge implements Queue.
func (q *DBQueue) Purge(ctx context.Context, now time.Time) (int64, error) {
	return repo.PurgeQueueJobs(ctx, q.db, q.name, now.Add(-q.retention.Completed), now.Add(-q.retention.Failed))
}
