package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/localpros/localpros-backend/internal/cron"
	"github.com/localpros/localpros-backend/internal/notifications"
	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/db"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
	"github.com/localpros/localpros-backend/pkg/migrate"
	"github.com/localpros/localpros-backend/pkg/outbox"
	"github.com/localpros/localpros-backend/pkg/outbox/idempotency"
	"github.com/localpros/localpros-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notifier"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "notifier",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "notifier stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "notifier",
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	params := notifications.DispatcherParams{
		Config:       cfg.Notifier,
		DashboardURL: cfg.SMTP.BaseURL,
		Logger:       logg,
		DB:           dbClient,
		Outbox:       outbox.NewRepository(dbClient.DB()),
		EmailLogs:    notifications.NewEmailLogRepository(dbClient.DB()),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	params.Metrics = metrics.NewNotificationMetrics(registry)

	var (
		redisClient *redis.Client
		manager     *idempotency.Manager
		maintenance *cron.Service
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()

		manager, err = idempotency.NewManager(redisClient, cfg.Billing.WebhookIdempotencyTTL)
		if err != nil {
			return err
		}
		params.Idempotency = manager

		maintenance, err = newMaintenance(cfg.Notifier, logg, dbClient, redisClient, metrics.NewJobMetrics(registry))
		if err != nil {
			return err
		}
	} else {
		logg.Warn(ctx, "redis not configured; outbox retention disabled")
	}

	decoders := outbox.NewDecoderRegistry()
	notifications.RegisterDecoders(decoders)
	params.Decoder = decoders

	mailer, err := notifications.NewSMTPMailer(cfg.SMTP)
	if err != nil {
		return err
	}
	params.Sender = mailer

	dispatcher, err := notifications.NewDispatcher(params)
	if err != nil {
		return err
	}

	metricsServer := newMetricsServer(cfg.Notifier.MetricsAddr, registry)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
	}()

	if maintenance != nil {
		go func() {
			if err := maintenance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "maintenance loop stopped", err)
			}
		}()
	}

	logg.Info(ctx, "starting notifier")
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logg.Info(ctx, "notifier shutting down gracefully")
	return nil
}

func newMaintenance(cfg config.NotifierConfig, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, jobMetrics *metrics.JobMetrics) (*cron.Service, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Metrics:    jobMetrics,
		Days:       cfg.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.OutboxRetentionJobName), cfg.RetentionInterval)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retention),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.RetentionInterval,
	})
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
