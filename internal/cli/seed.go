package cli

import (
	"errors"

	"github.com/fjod/fulfillment/internal/app"
	"github.com/fjod/fulfillment/internal/config"
	"github.com/fjod/fulfillment/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Upsert the products of a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Storage == config.StorageMemory {
				return errors.New("seeding in-memory storage has no effect; use serve --seed")
			}
			comps, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer comps.Close()

			n, err := seed.Load(cmd.Context(), comps.Catalog, args[0])
			if err != nil {
				return err
			}
			log.Info("catalog seeded", zap.Int("products", n), zap.String("file", args[0]))
			return nil
		},
	}
	return cmd
}
