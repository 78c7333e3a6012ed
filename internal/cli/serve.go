package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/fulfillment/internal/app"
	"github.com/fjod/fulfillment/internal/config"
	grpcserver "github.com/fjod/fulfillment/internal/grpc"
	httpapi "github.com/fjod/fulfillment/internal/http"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/publisher"
	"github.com/fjod/fulfillment/internal/repository/postgres"
	"github.com/fjod/fulfillment/internal/seed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ServeOptions struct {
	*RootOptions
	HTTPPort string
	SeedFile string
	Migrate  bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health endpoint and the outbox publisher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if opts.HTTPPort != "" {
				cfg.HTTPPort = opts.HTTPPort
			}
			if opts.SeedFile != "" {
				cfg.SeedFile = opts.SeedFile
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.Migrate, log)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPPort, "http-port", "", "HTTP port (overrides HTTP_PORT)")
	cmd.Flags().StringVar(&opts.SeedFile, "seed", "", "YAML catalog loaded at startup (overrides SEED_FILE)")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply migrations before serving (postgres only)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool, log *zap.Logger) error {
	if migrate && cfg.Storage == config.StoragePostgres {
		if err := postgres.RunMigrations(app.Credentials(cfg)); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	comps, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	if cfg.SeedFile != "" {
		n, err := seed.Load(ctx, comps.Catalog, cfg.SeedFile)
		if err != nil {
			return err
		}
		log.Info("catalog seeded", zap.Int("products", n))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	core := app.NewCore(comps, log, m)

	api := httpapi.NewServer(httpapi.Deps{
		Carts:    core.Carts,
		Checkout: core.Checkout,
		Orders:   core.Orders,
		Payments: core.Payments,
		Health:   core,
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		Timeout:  cfg.RequestTimeout,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	health := grpcserver.NewServer(core, 5*time.Second, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc health server starting", zap.String("port", cfg.GRPCPort))
		if err := health.GRPC().Serve(lis); err != nil {
			return fmt.Errorf("grpc server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		health.Watch(gctx)
		return nil
	})
	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(comps.Events,
			publisher.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			publisher.Config{}, log, m)
		g.Go(func() error {
			log.Info("outbox publisher starting", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
			poller.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		health.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("server exited")
	return err
}
