package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/binding"
	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/observability"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// Detector polls active polling hook jobs on a fixed cadence.
//
// Every Tick a cycle lists the due jobs and polls them concurrently, at most
// Concurrency at a time. A job still being polled by an earlier cycle is
// skipped, so the cursor of one job is only ever read and written by one
// poll at a time.
//
// The cursor advances as soon as the event is stored as a HookLog. A log
// whose execution job could not be enqueued is picked up by the redelivery
// sweep at the start of a later cycle, once it is older than RedeliverAfter.
type Detector struct {
	DB          *gorm.DB
	Registry    *capability.Registry
	Queue       queue.Queue
	Credentials *CredentialStore
	Failures    *FailureTracker
	Log         zerolog.Logger

	Tick        time.Duration
	Concurrency int
	Timeout     time.Duration // per poll call
	Now         func() time.Time

	RedeliverAfter time.Duration

	inflight sync.Map // hook job id -> struct{}
}

// Run starts a cycle every Tick until ctx is cancelled, then waits for the
// running cycles to return.
func (d *Detector) Run(ctx context.Context) error {
	tick := d.Tick
	if tick <= 0 {
		tick = 5 * time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	d.Log.Info().Dur("tick", tick).Msg("polling detector started")
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			d.Log.Info().Msg("polling detector stopping")
			return nil
		case <-t.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
					d.Log.Error().Err(err).Msg("polling cycle failed")
				}
			}()
		}
	}
}

// RunOnce runs one polling cycle and returns when every poll it started has
// finished. It fails only when the due jobs cannot be listed.
func (d *Detector) RunOnce(ctx context.Context) error {
	jobs, err := repo.ListActivePollingJobs(ctx, d.DB)
	if err != nil {
		return fmt.Errorf("list polling jobs: %w", err)
	}

	now := d.now()
	d.redeliver(ctx, now)

	var g errgroup.Group
	g.SetLimit(max(d.Concurrency, 1))
	for i := range jobs {
		job := jobs[i]
		if !job.Due(now) {
			continue
		}
		aa := job.AreaAction
		if !aa.Enabled || !aa.Area.Enabled {
			continue
		}
		if _, busy := d.inflight.LoadOrStore(job.ID, struct{}{}); busy {
			d.Log.Debug().Str("hook_job_id", job.ID).Msg("poll still in flight, skipping")
			continue
		}
		g.Go(func() error {
			defer d.inflight.Delete(job.ID)
			d.poll(ctx, &job)
			return nil
		})
	}
	return g.Wait()
}

func (d *Detector) poll(ctx context.Context, job *domain.HookJob) {
	aa := job.AreaAction
	service, action := aa.ServiceAction.Service.Name, aa.ServiceAction.Name
	log := d.Log.With().
		Str("hook_job_id", job.ID).
		Str("area_id", aa.AreaID).
		Str("capability", domain.CapabilityKey(service, action)).
		Logger()

	ctx, span := otel.Tracer("engine/Detector").Start(ctx, "poll",
		trace.WithAttributes(
			attribute.String("hook_job.id", job.ID),
			attribute.String("capability", domain.CapabilityKey(service, action)),
		),
	)
	defer span.End()

	now := d.now()
	res, err := d.call(ctx, job, service, action, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Polls.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("poll failed")
		if merr := repo.MarkChecked(ctx, d.DB, job.ID, now, nil); merr != nil {
			log.Error().Err(merr).Msg("mark checked")
		}
		d.Failures.Fail(ctx, job.ID, err)
		return
	}

	if res.Key == "" || res.Key == job.Cursor {
		observability.Polls.WithLabelValues("unchanged").Inc()
		if merr := repo.MarkChecked(ctx, d.DB, job.ID, now, nil); merr != nil {
			log.Error().Err(merr).Msg("mark checked")
		}
		if job.ConsecutiveFailures > 0 {
			d.Failures.Succeed(ctx, job.ID)
		}
		return
	}

	hl, err := d.capture(ctx, job, res)
	if err != nil {
		span.RecordError(err)
		observability.Polls.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("capture polled event")
		if merr := repo.MarkChecked(ctx, d.DB, job.ID, now, nil); merr != nil {
			log.Error().Err(merr).Msg("mark checked")
		}
		d.Failures.Fail(ctx, job.ID, err)
		return
	}

	key := res.Key
	if merr := repo.MarkChecked(ctx, d.DB, job.ID, now, &key); merr != nil {
		log.Error().Err(merr).Msg("advance cursor")
	}
	if job.ConsecutiveFailures > 0 {
		d.Failures.Succeed(ctx, job.ID)
	}
	observability.Polls.WithLabelValues("event").Inc()
	log.Info().Str("hook_log_id", hl.ID).Msg("new event captured")

	if err := Dispatch(ctx, d.DB, d.Queue, hl.ID, hl.Source, job.AreaActionID, now); err != nil {
		log.Error().Err(err).Str("hook_log_id", hl.ID).Msg("enqueue failed, left for redelivery")
	}
}

// redeliver re-enqueues HookLogs a previous capture stored but could not
// hand to the queue.
func (d *Detector) redeliver(ctx context.Context, now time.Time) {
	after := d.RedeliverAfter
	if after <= 0 {
		after = 30 * time.Second
	}
	r := Redeliverer{DB: d.DB, Queue: d.Queue, Log: d.Log, After: after}
	n, err := r.RunOnce(ctx, now)
	if err != nil {
		d.Log.Error().Err(err).Int("redelivered", n).Msg("hook log redelivery failed")
	}
}

// call invokes the poller with the job's bound parameters and credentials.
func (d *Detector) call(ctx context.Context, job *domain.HookJob, service, action string, now time.Time) (capability.PollResult, error) {
	aa := job.AreaAction
	params, err := binding.Resolve(actionParams(aa.ServiceAction.Params, aa.ParamValues), binding.Payload{})
	if err != nil {
		return capability.PollResult{}, fmt.Errorf("%w: %v", capability.ErrInvalidParams, err)
	}

	var creds capability.Credentials
	if aa.UserServiceID != "" {
		if d.Credentials == nil {
			return capability.PollResult{}, ErrMissingCredentials
		}
		if creds, err = d.Credentials.Load(ctx, aa.UserServiceID); err != nil {
			return capability.PollResult{}, err
		}
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	return d.Registry.Poll(ctx, service, action, capability.PollRequest{
		HookJobID:   job.ID,
		Cursor:      job.Cursor,
		Params:      params,
		Credentials: creds,
		Now:         now,
	})
}

// capture stores the event as a HookLog.
func (d *Detector) capture(ctx context.Context, job *domain.HookJob, res capability.PollResult) (*domain.HookLog, error) {
	payload := []byte(`{}`)
	if len(res.Payload) > 0 {
		b, err := json.Marshal(res.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		payload = b
	}

	hl := &domain.HookLog{
		HookJobID:    job.ID,
		Source:       domain.HookSourcePolling,
		EventPayload: payload,
		DetectedAt:   d.now().UTC(),
	}
	if err := repo.CreateHookLog(ctx, d.DB, hl); err != nil {
		return nil, fmt.Errorf("create hook log: %w", err)
	}
	observability.HookLogs.WithLabelValues(domain.HookSourcePolling).Inc()
	return hl, nil
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
