package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/internal/db"
	"github.com/hackgods/appointment-scheduling-core/internal/directory"
	"github.com/hackgods/appointment-scheduling-core/internal/metrics"
	"github.com/hackgods/appointment-scheduling-core/internal/notification"
	redisclient "github.com/hackgods/appointment-scheduling-core/internal/redis"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

// reminderLockTTL covers a whole reminder run, which sends inline.
const reminderLockTTL = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "reminder-worker")
	logger.Info("reminder-worker starting up",
		"env", cfg.Env,
		"reminder_time", time.Duration(cfg.ReminderHour)*time.Hour+time.Duration(cfg.ReminderMinute)*time.Minute,
		"sweep_interval", cfg.SweepInterval,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	dir := directory.NewClient(directory.Config{
		DoctorServiceURL:  cfg.DoctorServiceURL,
		PatientServiceURL: cfg.PatientServiceURL,
		AuthServiceURL:    cfg.AuthServiceURL,
		Timeout:           cfg.DirectoryTimeout,
	}, auth.NewServiceTokenSource(cfg.JWTSecret, cfg.ServiceID, cfg.ServiceTokenTTL), logger)

	senders, err := notification.NewSenders(rootCtx, cfg, rdb, logger)
	if err != nil {
		logger.Error("notification senders error", "error", err)
		os.Exit(1)
	}

	notifications := notification.NewPgRepository(pgPool)
	dispatcher := notification.NewDispatcher(notifications, dir, senders, cfg, logger,
		notification.WithMetrics(metrics.NewDispatchMetrics(nil)))

	reminders := notification.NewReminderScheduler(
		appointment.NewPgRepository(pgPool),
		notifications,
		dispatcher,
		redisclient.NewRedisLocker(rdb, reminderLockTTL),
		cfg,
		logger,
	)
	sweeper := notification.NewSweeper(notifications, dispatcher, cfg, logger)

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return reminders.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("reminder-worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("reminder-worker stopped")
}
