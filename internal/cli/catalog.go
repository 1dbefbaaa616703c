package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/catalog"
	"github.com/tbourn/go-area-backend/internal/sysutil"
)

// NewCatalogCommand groups the service catalog commands.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the service catalog",
	}
	cmd.AddCommand(newCatalogSyncCommand(opts))
	cmd.AddCommand(newCatalogValidateCommand(opts))
	return cmd
}

func newCatalogSyncCommand(opts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upsert services, actions and reactions from a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := sysutil.FirstNonEmpty(path, opts.Config.Catalog.Path)
			if file == "" {
				return errors.New("catalog path required (--file or CATALOG_PATH)")
			}
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			st, err := a.syncer().SyncFile(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "services=%d actions=%d reactions=%d\n", st.Services, st.Actions, st.Reactions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "catalog YAML file (default CATALOG_PATH)")
	return cmd
}

func newCatalogValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Parse a catalog file without touching the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			file := sysutil.FirstNonEmpty(arg, opts.Config.Catalog.Path)
			if file == "" {
				return errors.New("catalog path required")
			}
			f, err := catalog.LoadFile(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d services ok\n", file, len(f.Services))
			return nil
		},
	}
}

// syncer builds a catalog Syncer. When this process runs an Executor, every
// sync drops its cached catalog reactions.
func (a *app) syncer() *catalog.Syncer {
	s := &catalog.Syncer{DB: a.db, Registry: a.registry, Log: a.component("catalog")}
	if exec := a.exec; exec != nil {
		s.OnSync = func(catalog.Stats) { exec.PurgeCatalog() }
	}
	return s
}
