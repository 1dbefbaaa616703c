package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/repo"
)

// NewMigrateCommand creates or updates the schema and exits.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repo.Open(opts.Config.DB)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", opts.Config.DB.Driver).Int("models", len(repo.Models())).Msg("schema migrated")
			return nil
		},
	}
}
