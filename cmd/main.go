package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/cache"
	"github.com/fjod/go_cart/order-intake/internal/config"
	carthttp "github.com/fjod/go_cart/order-intake/internal/http"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/fjod/go_cart/order-intake/internal/logger"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/publisher"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/fjod/go_cart/order-intake/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "order-intake",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("order-intake stopped with error")
	}
	log.Info().Msg("order-intake stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rawCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()
	// one guard shared by every service that touches the cache
	cartCache := cache.Guard(rawCache)

	carts := service.NewCartService(store, cartCache, m, log)
	checkout := service.NewCheckoutService(store, cartCache, m, log)
	history := service.NewHistoryService(store, cartCache, m, log)

	handler := carthttp.NewCartHandler(carts, checkout, history, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: carthttp.NewRouter(handler, carthttp.RouterOptions{
			Timeout: cfg.RequestTimeout,
			Logger:  log,
			Metrics: m,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(store, publisher.Config{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			Interval: cfg.OutboxInterval,
		}, m, log)
		defer poller.Close()

		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, cart_paid events stay in the outbox")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(cfg *config.Config, log zerolog.Logger) (repository.Store, error) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(inventory.NewMemoryStore()), nil
	}

	cred := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	store, err := repository.NewPostgresStore(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.RunMigrations(cred); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("connected to postgres")
	return store, nil
}

func openCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("REDIS_ADDR not set, active cart cache disabled")
		return cache.NopCache{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis ping succeeded")

	c := cache.NewBreakerCache(cache.NewRedisCache(client, cfg.CacheTTL), cache.DefaultBreakerSettings(), log)
	return c, func() { client.Close() }, nil
}
