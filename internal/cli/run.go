package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-area-backend/internal/sysutil"
)

// NewRunCommand runs the API, the workers, the scheduler and the token
// refresher in one process.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	var (
		refreshEvery  time.Duration
		refreshWithin time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every engine component in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			// Built before the catalog watcher starts so reloads purge its cache.
			if _, err := a.executor(); err != nil {
				return err
			}
			if path := a.cfg.Catalog.Path; path != "" {
				if _, err := a.syncer().SyncFile(ctx, path); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.serve(gctx) })
			g.Go(func() error { return a.runWorkers(gctx) })
			g.Go(func() error { return a.detector().Run(gctx) })
			if refreshEvery > 0 {
				g.Go(func() error {
					a.refresher.Run(gctx, refreshEvery, refreshWithin)
					return nil
				})
			}
			if path := a.cfg.Catalog.Path; path != "" && a.cfg.Catalog.Watch {
				g.Go(func() error { return a.syncer().Watch(gctx, path, 500*time.Millisecond) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&refreshEvery, "refresh-every", time.Minute, "how often expiring tokens are renewed (0 disables)")
	cmd.Flags().DurationVar(&refreshWithin, "refresh-within", 5*time.Minute, "renew tokens expiring within this window")
	return cmd
}
