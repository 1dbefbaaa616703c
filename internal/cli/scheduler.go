package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/sysutil"
)

// NewSchedulerCommand runs the polling detector.
func NewSchedulerCommand(opts *RootOptions) *cobra.Command {
	var (
		once bool
		tick time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Poll active polling hook jobs and queue their events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			if tick > 0 {
				opts.Config.Scheduler.Tick = tick
			}
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			d := a.detector()
			if once {
				return d.RunOnce(ctx)
			}
			return d.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single detection cycle and exit")
	cmd.Flags().DurationVar(&tick, "tick", 0, "override SCHEDULER_TICK")
	return cmd
}
