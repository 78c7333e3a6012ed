// Package cli holds the fulfillment command tree.
package cli

import (
	"github.com/fjod/fulfillment/internal/config"
	"github.com/fjod/fulfillment/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds flags shared by every command. Empty values leave the
// environment setting in place.
type RootOptions struct {
	LogLevel string
	Storage  string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "fulfillment",
		Short:         "Cart, checkout, order and payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "", "storage backend (memory|postgres)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// load reads the environment and applies flag overrides.
func (o *RootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Storage != "" {
		cfg.Storage = o.Storage
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
