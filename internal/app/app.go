// Package app wires the storefront from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/techTenzen/Cricket/internal/cart"
	"github.com/techTenzen/Cricket/internal/cart/cache"
	"github.com/techTenzen/Cricket/internal/cart/repository"
	"github.com/techTenzen/Cricket/internal/catalog"
	"github.com/techTenzen/Cricket/internal/checkout"
	"github.com/techTenzen/Cricket/internal/config"
	apphttp "github.com/techTenzen/Cricket/internal/http"
	"github.com/techTenzen/Cricket/internal/metrics"
	"github.com/techTenzen/Cricket/internal/order"
	"github.com/techTenzen/Cricket/internal/outbox"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Catalog  catalog.Store
	Carts    *cart.Service
	Checkout *checkout.Coordinator
	Orders   *order.Manager
	Metrics  *metrics.Metrics
	Handler  http.Handler

	poller  *outbox.Poller
	closers []func()
}

// New connects every backend named in cfg and builds the services. Schema
// migrations run before the stores are used.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)

	var err error
	if a.Catalog, err = a.openCatalog(); err != nil {
		return nil, err
	}

	carts, err := a.openCarts(ctx)
	if err != nil {
		return nil, err
	}
	cartCache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := a.openOrders(ctx)
	if err != nil {
		return nil, err
	}

	a.Carts = cart.NewService(carts, cartCache, a.Catalog, logger)
	a.Checkout = checkout.NewCoordinator(a.Carts, a.Catalog, orders, a.Metrics, logger)
	a.Orders = order.NewManager(orders, a.Catalog, a.Metrics, logger)
	a.poller = outbox.NewPoller(orders, a.openPublisher(), cfg.Events.PollInterval, a.Metrics, logger)

	a.Handler = apphttp.NewRouter(apphttp.Deps{
		Products:       a.Catalog,
		Carts:          a.Carts,
		Checkout:       a.Checkout,
		Orders:         a.Orders,
		Metrics:        a.Metrics,
		Logger:         logger,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	ok = true
	return a, nil
}

func (a *App) openCatalog() (catalog.Store, error) {
	switch a.cfg.Catalog.Driver {
	case config.DriverMemory:
		a.logger.Warn("catalog is in memory, stock is lost on restart")
		return catalog.NewMemoryStore(), nil
	default:
		store, err := catalog.NewSQLStore(a.cfg.Catalog.Driver, a.cfg.Catalog.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { store.Close() })
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
		a.logger.Info("catalog store ready", "driver", a.cfg.Catalog.Driver)
		return store, nil
	}
}

func (a *App) openCarts(ctx context.Context) (repository.CartRepository, error) {
	if a.cfg.Carts.MongoURI == "" {
		return repository.NewMemoryRepository(), nil
	}
	db, err := repository.ConnectMongoDB(ctx, repository.MongoOptions{
		URI:            a.cfg.Carts.MongoURI,
		Database:       a.cfg.Carts.MongoDBName,
		MaxPoolSize:    a.cfg.Carts.MongoMaxPoolSize,
		ConnectTimeout: a.cfg.Carts.MongoConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Client().Disconnect(ctx)
	})

	repo := repository.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create cart indexes: %w", err)
	}
	a.logger.Info("connected to MongoDB", "database", a.cfg.Carts.MongoDBName)
	return repo, nil
}

func (a *App) openCache(ctx context.Context) (cache.CartCache, error) {
	if a.cfg.Carts.RedisAddr == "" {
		return cache.Noop{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Carts.RedisAddr,
		Password: a.cfg.Carts.RedisPassword,
		DB:       0,
	})
	a.closers = append(a.closers, func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	a.logger.Info("redis ping succeeded", "addr", a.cfg.Carts.RedisAddr)
	return cache.NewRedisCache(client), nil
}

func (a *App) openOrders(ctx context.Context) (order.OrderRepository, error) {
	if a.cfg.Orders.DatabaseURL == "" {
		a.logger.Warn("orders are in memory, they are lost on restart")
		return order.NewMemoryRepository(), nil
	}
	if err := order.RunMigrations(a.cfg.Orders.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate orders: %w", err)
	}
	repo, err := order.NewPostgresRepository(ctx, a.cfg.Orders.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	return repo, nil
}

func (a *App) openPublisher() outbox.Publisher {
	if len(a.cfg.Events.KafkaBrokers) == 0 {
		return outbox.NewLogPublisher(a.logger)
	}
	p := outbox.NewKafkaPublisher(a.cfg.Events.KafkaBrokers, a.cfg.Events.Topic, a.logger)
	a.closers = append(a.closers, func() { p.Close() })
	return p
}

// Run serves HTTP and relays outbox events until ctx is done, then shuts the
// server down gracefully.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", ":"+a.cfg.HTTP.Port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return a.serve(ctx, lis)
}

func (a *App) serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      a.cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("storefront listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.poller.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Migrate applies catalog and order schema migrations without starting
// anything else.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Catalog.Driver != config.DriverMemory {
		store, err := catalog.NewSQLStore(cfg.Catalog.Driver, cfg.Catalog.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
		logger.Info("catalog migrations applied", "driver", cfg.Catalog.Driver)
	}
	if cfg.Orders.DatabaseURL != "" {
		if err := order.RunMigrations(cfg.Orders.DatabaseURL); err != nil {
			return fmt.Errorf("migrate orders: %w", err)
		}
		logger.Info("order migrations applied")
	}
	return nil
}
