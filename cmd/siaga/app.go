// README: Wires infra clients, stores and services shared by the serve and queue commands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"siaga/internal/config"
	"siaga/internal/infra"
	"siaga/internal/modules/capacity"
	"siaga/internal/modules/connectivity"
	"siaga/internal/modules/dispatch"
	"siaga/internal/modules/location"
	"siaga/internal/modules/matching"
	"siaga/internal/modules/syncqueue"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger

	pool   *pgxpool.Pool
	redis  *redis.Client
	sqlite *sql.DB

	queue    *syncqueue.Queue
	monitor  *connectivity.Monitor
	dispatch *dispatch.Service
	location *location.Service
	capacity *capacity.Service
	matching *matching.Service
}

// queueFlusher lets the monitor be built before the queue it flushes.
type queueFlusher struct {
	queue *syncqueue.Queue
}

func (f *queueFlusher) Flush(ctx context.Context) (syncqueue.FlushResult, error) {
	return f.queue.Flush(ctx)
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if queuePath != "" {
		cfg.Sync.QueuePath = queuePath
	}
	return cfg, infra.NewLogger(cfg.Env), nil
}

func queueOptions(cfg config.Config, logger *slog.Logger) syncqueue.Options {
	return syncqueue.Options{
		MaxRetries:    cfg.Sync.MaxRetries,
		Backoff:       syncqueue.NewBackoff(cfg.Sync.Backoff, cfg.Sync.BackoffStep, cfg.Sync.BackoffMax),
		OwnerParallel: cfg.Sync.OwnerParallel,
		Logger:        logger,
	}
}

func openQueueStore(ctx context.Context, path string) (*sql.DB, *syncqueue.SQLiteStore, error) {
	db, err := infra.NewSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := syncqueue.NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sync queue store: %w", err)
	}
	return db, store, nil
}

// newApp builds the full service graph. Nothing here requires the backend to
// be reachable; a device that boots offline starts queueing immediately.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	sqlite, queueStore, err := openQueueStore(ctx, cfg.Sync.QueuePath)
	if err != nil {
		return nil, err
	}
	a.sqlite = sqlite

	a.pool, err = infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.redis = infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	probers := []connectivity.Prober{
		connectivity.PostgresProber(a.pool),
		connectivity.RedisProber(a.redis),
	}
	if cfg.Connectivity.HealthURL != "" {
		probers = append(probers, connectivity.HTTPProber{URL: cfg.Connectivity.HealthURL})
	}
	flusher := &queueFlusher{}
	// No platform network callback on a server; the probes stand in for it.
	a.monitor = connectivity.NewMonitor(connectivity.All(probers...), flusher, connectivity.Options{
		ProbeInterval:     cfg.Connectivity.ProbeInterval,
		ProbeTimeout:      cfg.Connectivity.ProbeTimeout,
		FlushInterval:     cfg.Sync.FlushInterval,
		ProbeDrivesOnline: true,
		Logger:            logger,
	})
	a.queue = syncqueue.New(queueStore, a.monitor, queueOptions(cfg, logger))
	flusher.queue = a.queue

	dispatchStore := dispatch.NewStore(a.pool)
	capacityStore := capacity.NewStore(a.pool)
	locationStore := location.NewStore(a.pool, a.redis)
	a.ensureSchema(ctx, dispatchStore, capacityStore, locationStore)

	a.dispatch = dispatch.NewService(dispatchStore, a.queue, a.monitor, logger)
	a.dispatch.RegisterApply(a.queue)

	a.location = location.NewService(locationStore, logger).WithOutbox(a.queue, a.monitor)
	a.location.RegisterApply(a.queue)

	a.capacity = capacity.NewService(capacityStore,
		capacity.NewCache(a.redis, cfg.Capacity.CacheTTL),
		capacity.Weights{Distance: cfg.Capacity.DistanceWeight, Capacity: cfg.Capacity.ScoreWeight},
		logger)

	a.matching = matching.NewService(a.location, a.capacity, a.dispatch, matching.NewStore(a.redis), cfg.Matching, logger)

	if n, err := a.queue.Recover(ctx); err != nil {
		logger.Warn("recover sync queue", "err", err)
	} else if n > 0 {
		logger.Info("sync queue recovered", "items", n)
	}
	return a, nil
}

// ensureSchema is best effort: while offline the tables are created on the
// next start instead.
func (a *app) ensureSchema(ctx context.Context, stores ...interface {
	EnsureSchema(ctx context.Context) error
}) {
	for _, s := range stores {
		if err := s.EnsureSchema(ctx); err != nil {
			a.logger.Warn("ensure schema", "err", err)
		}
	}
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
}
