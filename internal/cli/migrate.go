package cli

import (
	"errors"

	"github.com/fjod/fulfillment/internal/app"
	"github.com/fjod/fulfillment/internal/config"
	"github.com/fjod/fulfillment/internal/repository/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Storage != config.StoragePostgres {
				return errors.New("migrate needs STORAGE=postgres")
			}
			if path != "" {
				cfg.DB.MigrationsPath = path
			}
			if err := postgres.RunMigrations(app.Credentials(cfg)); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("path", cfg.DB.MigrationsPath))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "migrations directory (overrides MIGRATIONS_PATH)")
	return cmd
}
