package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/sysutil"
)

// NewWorkerCommand runs the execution workers that consume the queue.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run reactions for queued hook events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			if concurrency > 0 {
				opts.Config.Queue.Concurrency = concurrency
			}
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			return a.runWorkers(ctx)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "override WORKER_CONCURRENCY")
	return cmd
}
