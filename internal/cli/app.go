package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/capability/builtin"
	"github.com/tbourn/go-area-backend/internal/config"
	"github.com/tbourn/go-area-backend/internal/credentials"
	"github.com/tbourn/go-area-backend/internal/engine"
	"github.com/tbourn/go-area-backend/internal/observability"
	"github.com/tbourn/go-area-backend/internal/queue"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// app is the set of long-lived components a command runs on.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	db        *gorm.DB
	queue     queue.Queue
	registry  *capability.Registry
	refresher *credentials.Refresher
	creds     *engine.CredentialStore
	failures  *engine.FailureTracker
	exec      *engine.Executor

	closers []func(context.Context) error
}

// newApp opens the store and the queue, migrates the schema, and builds the
// capability registry. Callers must call close.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config
	a := &app{cfg: cfg, log: log.Logger}

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	db, err := repo.Open(cfg.DB)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := repo.AutoMigrate(db); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if a.queue, err = a.openQueue(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.registry = capability.NewRegistry()
	builtin.Register(a.registry, builtin.Deps{
		Logger:       a.component("reactions"),
		DiscordToken: cfg.DiscordToken,
		SlackToken:   cfg.SlackToken,
	})

	a.refresher = credentials.New(db, cfg, a.component("credentials"))
	a.creds = &engine.CredentialStore{DB: db, Refresher: a.refresher}
	a.failures = &engine.FailureTracker{
		DB:        db,
		Threshold: cfg.Scheduler.FailureThreshold,
		Log:       a.component("failures"),
	}
	return a, nil
}

func (a *app) openQueue(ctx context.Context) (queue.Queue, error) {
	qc := a.cfg.Queue
	retention := queue.Retention{Completed: qc.CompletedRetention, Failed: qc.FailedRetention}

	switch qc.Backend {
	case "", "db":
		return queue.NewDBQueue(a.db, qc.Name, qc.Lease, retention), nil
	case "redis":
		ropts, err := redis.ParseURL(qc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(ropts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		return queue.NewRedisQueue(rdb, qc.Name, qc.Lease, retention), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
	}
}

func (a *app) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

func (a *app) pool() *queue.Pool {
	qc := a.cfg.Queue
	policy := queue.DefaultPolicy()
	policy.MaxAttempts = qc.MaxAttempts
	policy.InitialBackoff = qc.BackoffInitial
	policy.MaxBackoff = qc.BackoffMax
	return &queue.Pool{
		Queue:         a.queue,
		Policy:        policy,
		Concurrency:   qc.Concurrency,
		PollInterval:  qc.PollInterval,
		PurgeInterval: qc.PurgeInterval,
		Log:           a.component("worker"),
	}
}

// executor returns the process-wide Executor, building it on first use.
func (a *app) executor() (*engine.Executor, error) {
	if a.exec != nil {
		return a.exec, nil
	}
	exec, err := engine.NewExecutor(a.db, a.registry, engine.ExecutorOptions{
		Credentials: a.creds,
		Failures:    a.failures,
		Log:         a.component("executor"),
		Timeout:     a.cfg.CapabilityTimeout,
		CacheTTL:    a.cfg.Catalog.CacheTTL,
	})
	if err != nil {
		return nil, err
	}
	a.exec = exec
	return exec, nil
}

func (a *app) detector() *engine.Detector {
	sc := a.cfg.Scheduler
	return &engine.Detector{
		DB:          a.db,
		Registry:    a.registry,
		Queue:       a.queue,
		Credentials: a.creds,
		Failures:    a.failures,
		Log:         a.component("scheduler"),
		Tick:        sc.Tick,
		Concurrency: sc.Concurrency,
		Timeout:     a.cfg.CapabilityTimeout,
	}
}

// runWorkers consumes the queue until ctx is cancelled.
func (a *app) runWorkers(ctx context.Context) error {
	exec, err := a.executor()
	if err != nil {
		return err
	}
	p := a.pool()
	p.OnDead = exec.OnDead
	return p.Run(ctx, exec.Handle)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("shutdown")
	}
}
