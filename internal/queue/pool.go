package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-area-backend/internal/observability"
)

// Handler processes one job. A nil error acks the job; an error marked with
// Permanent fails it at once; any other error is retried per Policy.
type Handler func(ctx context.Context, job *Job) error

// Pool consumes a Queue with a fixed number of workers.
//
// Shutdown: when the Run context is cancelled, workers stop dequeuing and
// each in-flight job finishes on a context detached from the cancellation,
// so its ack or retry is still recorded. A job interrupted by a crash is
// re-delivered once its lease expires.
type Pool struct {
	Queue         Queue
	Policy        Policy
	Concurrency   int
	PollInterval  time.Duration
	PurgeInterval time.Duration
	Log           zerolog.Logger

	// OnDead is called after a job has been failed terminally.
	OnDead func(ctx context.Context, job *Job, cause error)
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context, h Handler) error {
	n := max(p.Concurrency, 1)
	idle := p.PollInterval
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker, idle, h)
			return nil
		})
	}
	if p.PurgeInterval > 0 {
		g.Go(func() error {
			p.purgeLoop(gctx)
			return nil
		})
	}
	p.Log.Info().Int("workers", n).Msg("queue pool started")
	err := g.Wait()
	p.Log.Info().Msg("queue pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int, idle time.Duration, h Handler) {
	log := p.Log.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
				log.Error().Err(err).Msg("dequeue failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}
		p.Process(context.WithoutCancel(ctx), job, h)
	}
}

// Process runs h for one claimed job and settles it: ack on success, fail
// on a permanent error or exhausted attempts, otherwise nack with the
// policy delay.
func (p *Pool) Process(ctx context.Context, job *Job, h Handler) {
	log := p.Log.With().Str("job_key", job.Key).Int("attempt", job.Attempts).Logger()

	err := safeHandle(ctx, job, h)
	switch {
	case err == nil:
		if aerr := p.Queue.Ack(ctx, job); aerr != nil {
			log.Error().Err(aerr).Msg("ack failed")
		}
		observability.QueueJobs.WithLabelValues("completed").Inc()

	case IsPermanent(err) || p.Policy.Exhausted(job.Attempts):
		log.Warn().Err(err).Bool("permanent", IsPermanent(err)).Msg("job failed")
		if ferr := p.Queue.Fail(ctx, job, err); ferr != nil {
			log.Error().Err(ferr).Msg("fail failed")
		}
		observability.QueueJobs.WithLabelValues("failed").Inc()
		if p.OnDead != nil {
			p.OnDead(ctx, job, err)
		}

	default:
		delay := p.Policy.Delay(job.Attempts)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("job will be retried")
		if nerr := p.Queue.Nack(ctx, job, delay, err); nerr != nil {
			log.Error().Err(nerr).Msg("nack failed")
		}
		observability.QueueJobs.WithLabelValues("retried").Inc()
	}
}

func safeHandle(ctx context.Context, job *Job, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) purgeLoop(ctx context.Context) {
	t := time.NewTicker(p.PurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := p.Queue.Purge(ctx, now)
			if err != nil {
				p.Log.Error().Err(err).Msg("queue purge failed")
				continue
			}
			if n > 0 {
				p.Log.Debug().Int64("purged", n).Msg("queue purged")
			}
		}
	}
}
