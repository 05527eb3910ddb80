// Package backend opens the stores selected by configuration. Both binaries
// use it so the server and the admin CLI always agree on where data lives.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/shoplocal/internal"
	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/DukeRupert/shoplocal/internal/store/postgres"
	"github.com/DukeRupert/shoplocal/internal/store/redisstore"
	"github.com/DukeRupert/shoplocal/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sony/gobreaker/v2"
)

// Backend bundles the stores for one process.
type Backend struct {
	// Usage is the quota record store, wrapped in a circuit breaker.
	Usage         *store.BreakerUsageStore
	Subscriptions store.SubscriptionStore
	Stats         store.UsageStatsStore
	Queue         worker.Queue

	// Checks are the dependencies reported by the health endpoint.
	Checks map[string]func(ctx context.Context) error

	closers []func()
}

// Open connects to the configured backend. Postgres is migrated on open.
func Open(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{Checks: make(map[string]func(ctx context.Context) error)}

	var usage store.UsageStore
	switch cfg.StoreBackend {
	case internal.StoreBackendMemory:
		mem := store.NewMemory()
		usage, b.Subscriptions, b.Stats = mem, mem, mem
		b.Queue = worker.NewMemoryQueue()
		logger.Warn("using in-memory store; data is lost on restart")

	case internal.StoreBackendPostgres, internal.StoreBackendRedis:
		pool, err := openPostgres(ctx, cfg.DatabaseUrl)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.Checks["postgres"] = pool.Ping
		logger.Info("database ready")

		pg := postgres.New(pool)
		usage, b.Subscriptions, b.Stats = pg, pg, pg
		b.Queue = worker.NewPostgresQueue(pool)

		if cfg.StoreBackend == internal.StoreBackendRedis {
			client, err := redisstore.Connect(ctx, cfg.RedisURL)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.closers = append(b.closers, func() { _ = client.Close() })
			b.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			usage = redisstore.New(client)
			logger.Info("usage records stored in redis")
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	b.Usage = store.NewBreakerUsageStore(usage, store.BreakerConfig{
		Name:          "usage-store",
		MaxFailures:   uint32(cfg.BreakerMaxFailures),
		OpenTimeout:   cfg.BreakerOpenTimeout,
		OnStateChange: metrics.BreakerStateChanged,
	}, logger)
	b.Checks["usage_store"] = func(context.Context) error {
		if b.Usage.State() == gobreaker.StateOpen {
			return store.ErrCircuitOpen
		}
		return nil
	}

	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func openPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := internal.RunMigrations(db); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return pool, nil
}
