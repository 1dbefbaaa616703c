// Package cli builds the areaengine command tree. Every command shares the
// configuration and logging setup done by the root's persistent pre-run.
package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/config"
	"github.com/tbourn/go-area-backend/internal/sysutil"
)

// RootOptions holds global flags and the configuration loaded for the
// running command.
type RootOptions struct {
	EnvFile  string
	LogLevel string
	Version  string

	Config config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "areaengine",
		Short:         "AREA hook engine",
		Long:          "Detects action events by polling or webhooks and runs the reactions of each area.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewSchedulerCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

// load reads the dotenv file (a missing one is fine), then the config, then
// installs the global logger.
func (o *RootOptions) load() error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.EnvFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.LogLevel = sysutil.FirstNonEmpty(o.LogLevel, cfg.LogLevel)
	o.Config = cfg

	sysutil.SetupLogging(nil, cfg.LogLevel, sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "area-engine"), cfg.LogPretty)
	return nil
}
