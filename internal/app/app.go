// Package app assembles repositories, locks and caches into the fulfillment services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/fulfillment/internal/cache"
	"github.com/fjod/fulfillment/internal/cart"
	"github.com/fjod/fulfillment/internal/checkout"
	"github.com/fjod/fulfillment/internal/config"
	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/lock"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/orders"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/payment"
	"github.com/fjod/fulfillment/internal/repository/memory"
	mongorepo "github.com/fjod/fulfillment/internal/repository/mongo"
	"github.com/fjod/fulfillment/internal/repository/postgres"
	"github.com/fjod/fulfillment/internal/stock"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockTTL = 30 * time.Second

type Catalog interface {
	stock.Store
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, p *domain.Product) error
}

type OrderStore interface {
	checkout.Orders
	orders.Repository
}

type EventStore interface {
	outbox.Recorder
	outbox.Source
}

// Components are the storage-level collaborators the services run on.
type Components struct {
	Catalog  Catalog
	Carts    cart.Repository
	Orders   OrderStore
	Payments payment.Repository
	Events   EventStore
	Tx       txn.Transactor
	Locker   lock.Locker
	Cache    cache.CartCache
	Settler  payment.Settler

	// Ping reports backend reachability; nil means always healthy.
	Ping    func(ctx context.Context) error
	closers []func()
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Memory returns a self-contained in-process backend.
func Memory(logger *zap.Logger) *Components {
	catalog := memory.NewCatalog()
	return &Components{
		Catalog:  catalog,
		Carts:    memory.NewCarts(),
		Orders:   memory.NewOrders(),
		Payments: memory.NewPayments(),
		Events:   memory.NewOutbox(),
		Tx:       txn.NewCompensating(logger),
		Locker:   lock.NewMemory(),
	}
}

// Open builds the components cfg asks for. Callers must Close them.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	var c *Components
	switch cfg.Storage {
	case config.StoragePostgres:
		store, err := postgres.New(ctx, Credentials(cfg))
		if err != nil {
			return nil, err
		}
		c = &Components{
			Catalog:  store,
			Carts:    store,
			Orders:   store,
			Payments: store,
			Events:   store,
			Tx:       store,
			Locker:   lock.NewMemory(),
			Ping:     store.Ping,
			closers:  []func(){store.Close},
		}
		logger.Info("using postgres storage", zap.String("host", cfg.DB.Host), zap.String("db", cfg.DB.Name))
	case config.StorageMemory:
		c = Memory(logger)
		logger.Info("using in-memory storage")
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.CartStore == config.CartStoreMongo {
		db, err := mongorepo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			c.Close()
			return nil, err
		}
		carts := mongorepo.NewCarts(db)
		if err := carts.CreateIndexes(ctx); err != nil {
			c.Close()
			_ = db.Client().Disconnect(ctx)
			return nil, err
		}
		c.Carts = carts
		c.closers = append(c.closers, func() { _ = db.Client().Disconnect(context.Background()) })
		logger.Info("using mongodb cart store", zap.String("db", cfg.Mongo.Database))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			c.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		c.Cache = cache.NewRedisCache(client, logger)
		c.Locker = lock.NewRedis(client, lockTTL, logger)
		c.closers = append(c.closers, func() { _ = client.Close() })
		logger.Info("redis cache and locks enabled", zap.String("addr", cfg.Redis.Addr))
	} else if cfg.Storage == config.StoragePostgres {
		// Cart and order locks stay in this process; a second instance
		// sharing the database can lose cart lines added during checkout.
		logger.Warn("REDIS_ADDR not set, cart and order locks are local to this instance; run a single instance")
	}
	return c, nil
}

func Credentials(cfg *config.Config) *postgres.Credentials {
	return &postgres.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
}

// Core is the set of services every transport serves.
type Core struct {
	Components *Components
	Ledger     *stock.Ledger
	Carts      *cart.Service
	Checkout   *checkout.Service
	Orders     *orders.Service
	Payments   *payment.Service
}

func NewCore(c *Components, logger *zap.Logger, m *metrics.Metrics) *Core {
	ledger := stock.NewLedger(c.Catalog, logger, m)
	carts := cart.NewService(c.Carts, c.Catalog, c.Catalog, c.Cache, c.Locker, logger, m)
	return &Core{
		Components: c,
		Ledger:     ledger,
		Carts:      carts,
		Checkout: checkout.NewService(checkout.Deps{
			Carts:   carts,
			Catalog: c.Catalog,
			Ledger:  ledger,
			Orders:  c.Orders,
			Events:  c.Events,
			Tx:      c.Tx,
			Logger:  logger,
			Metrics: m,
		}),
		Orders: orders.NewService(orders.Deps{
			Repo:    c.Orders,
			Ledger:  ledger,
			Locker:  c.Locker,
			Tx:      c.Tx,
			Events:  c.Events,
			Logger:  logger,
			Metrics: m,
		}),
		Payments: payment.NewService(payment.Deps{
			Orders:   c.Orders,
			Payments: c.Payments,
			Settler:  c.Settler,
			Locker:   c.Locker,
			Tx:       c.Tx,
			Events:   c.Events,
			Logger:   logger,
			Metrics:  m,
		}),
	}
}

// Ping satisfies the health probes of both transports.
func (c *Core) Ping(ctx context.Context) error {
	if c.Components.Ping == nil {
		return nil
	}
	if err := c.Components.Ping(ctx); err != nil {
		return errors.Join(errors.New("storage unavailable"), err)
	}
	return nil
}
