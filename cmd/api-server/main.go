package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.MustNew("dev").Fatal("config load error", zap.Error(err))
	}

	logger := logging.MustNew(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.Store),
		zap.String("lock_backend", cfg.LockBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo appointment.Repository
		deps []api.Dependency
	)

	switch cfg.Store {
	case config.StorePostgres:
		pgPool := connectPostgres(rootCtx, cfg, logger)
		defer pgPool.Close()

		if cfg.MigrateOnStart {
			migrate(rootCtx, pgPool, logger)
		}

		repo = appointment.NewPgRepository(pgPool)
		deps = append(deps, api.Dependency{Name: "postgres", Pinger: pgPool, Critical: true})
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		deps = append(deps, api.Dependency{Name: "redis", Pinger: redisPinger(rdb), Critical: true})
	case config.LockLocal:
		logger.Warn("using in-process locks, run a single replica only")
		locker = lock.NewLocalLocker()
	}

	svc := appointment.NewService(repo, locker, cfg, logger)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:      svc,
			Logger:       logger,
			JWTSecret:    []byte(cfg.JWTSecret),
			Dependencies: deps,
			Env:          cfg.Env,
			Version:      version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func connectPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) *pgxpool.Pool {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "clinic-api"})
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	logger.Info("connected to Postgres")
	return pool
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	m, err := db.NewMigrator(pool)
	if err != nil {
		logger.Fatal("migrator init error", zap.Error(err))
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(ctx); err != nil {
		logger.Fatal("migration error", zap.Error(err))
	}
	v, err := m.Version(ctx)
	if err != nil {
		logger.Fatal("migration version error", zap.Error(err))
	}
	logger.Info("database migrated", zap.Int64("version", v))
}

func redisPinger(rdb *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}
