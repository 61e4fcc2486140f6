package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-scheduling-core/internal/api"
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

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server")
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

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

	appointments := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(
		appointments,
		appointment.NewAvailabilityChecker(dir, appointments),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		dispatcher,
		cfg,
		logger,
		appointment.WithMetrics(metrics.NewSchedulingMetrics(nil)),
	)

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = promhttp.Handler()
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments:  svc,
		Notifications: dispatcher,
		Lookup:        appointments,
		Authenticator: auth.NewJWTAuthenticator(cfg.JWTSecret),
		WebhookSecret: cfg.WebhookSecret,
		Postgres:      pgPool,
		Redis: api.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
		Metrics: metricsHandler,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// The dispatcher outlives the HTTP server so events published by requests
	// still in flight during Shutdown are drained.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(rootCtx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return dispatcher.Run(dispatchCtx) })
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopDispatch()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("api-server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("api-server stopped")
}
