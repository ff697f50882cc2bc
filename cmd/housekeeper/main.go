package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/housekeeping"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.MustNew("dev").Fatal("config load error", zap.Error(err))
	}

	logger := logging.MustNew(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if cfg.Store != config.StorePostgres {
		logger.Fatal("housekeeper needs STORE=postgres", zap.String("store", cfg.Store))
	}

	logger.Info("housekeeper starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.HousekeepingSchedule),
		zap.Int("retention_days", cfg.AvailabilityRetention),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		ApplicationName: "clinic-housekeeper",
		MaxConns:        2,
	})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// purging takes no doctor-day locks
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), lock.NewLocalLocker(), cfg, logger)

	hk, err := housekeeping.New(svc, cfg.HousekeepingSchedule, logger)
	if err != nil {
		logger.Fatal("housekeeper init error", zap.Error(err))
	}

	hk.Start(rootCtx)
	logger.Info("housekeeper stopped")
}
