package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// Dispatch enqueues the execution job of a stored HookLog under its dedup
// key ("<source>-<hookLogId>") and marks the log as enqueued. Calling it
// again for the same log is harmless: the queue ignores a known key.
func Dispatch(ctx context.Context, db *gorm.DB, q queue.Queue, hookLogID, source, areaActionID string, now time.Time) error {
	body, err := queue.Execution{HookLogID: hookLogID, AreaActionID: areaActionID}.Encode()
	if err != nil {
		return err
	}
	key := queue.Key(source, hookLogID)
	if _, err := q.Enqueue(ctx, key, body); err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	if err := repo.MarkHookLogEnqueued(ctx, db, hookLogID, now); err != nil {
		return fmt.Errorf("mark %s enqueued: %w", hookLogID, err)
	}
	return nil
}

// Redeliverer hands over HookLogs whose execution job was never enqueued,
// for instance because the queue was unavailable right after capture.
type Redeliverer struct {
	DB    *gorm.DB
	Queue queue.Queue
	Log   zerolog.Logger

	After time.Duration // logs younger than this are left to their capturer
	Batch int
}

// RunOnce re-enqueues one batch of pending HookLogs and returns how many
// were handed over.
func (r *Redeliverer) RunOnce(ctx context.Context, now time.Time) (int, error) {
	after := r.After
	if after <= 0 {
		after = 30 * time.Second
	}
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := repo.ListUnqueuedHookLogs(ctx, r.DB, now.Add(-after), batch)
	if err != nil {
		return 0, fmt.Errorf("list unqueued hook logs: %w", err)
	}

	sent := 0
	for _, p := range pending {
		log := r.Log.With().Str("hook_log_id", p.ID).Logger()
		if p.AreaActionID == "" {
			// Hook job deleted before the log was handed over; nothing to run.
			log.Warn().Msg("hook job gone, dropping undelivered hook log")
			if err := repo.MarkHookLogEnqueued(ctx, r.DB, p.ID, now); err != nil {
				return sent, err
			}
			continue
		}
		if err := Dispatch(ctx, r.DB, r.Queue, p.ID, p.Source, p.AreaActionID, now); err != nil {
			return sent, err
		}
		log.Info().Str("source", p.Source).Msg("hook log redelivered")
		sent++
	}
	return sent, nil
}
