package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/localpros/localpros-backend/api/controllers"
	"github.com/localpros/localpros-backend/api/routes"
	"github.com/localpros/localpros-backend/internal/billing"
	"github.com/localpros/localpros-backend/internal/notifications"
	"github.com/localpros/localpros-backend/internal/plans"
	"github.com/localpros/localpros-backend/internal/subscriptions"
	stripewebhook "github.com/localpros/localpros-backend/internal/webhooks/stripe"
	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/db"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
	"github.com/localpros/localpros-backend/pkg/migrate"
	"github.com/localpros/localpros-backend/pkg/outbox"
	"github.com/localpros/localpros-backend/pkg/redis"
	"github.com/localpros/localpros-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	var (
		redisClient *redis.Client
		redisPinger controllers.Pinger
		guard       *stripewebhook.IdempotencyGuard
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
		redisPinger = redisClient

		guard, err = stripewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookIdempotencyTTL, stripewebhook.GuardScope)
		if err != nil {
			return err
		}
	} else {
		logg.Warn(ctx, "redis not configured; webhook delivery de-duplication disabled")
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	billingRepo := billing.NewRepository(dbClient.DB())
	enqueuer, err := notifications.NewEnqueuer(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Stripe:            stripeClient,
		Plans:             plans.NewResolver(cfg.Plans),
		Notifier:          enqueuer,
		TransactionRunner: dbClient,
		TestCompanyID:     cfg.Billing.TestCompanyID,
		DefaultCurrency:   cfg.Billing.DefaultCurrency,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:        billingRepo,
		Stripe:             stripeClient,
		TransactionRunner:  dbClient,
		CancelNoticeMonths: cfg.Billing.CancelNoticeMonths,
		Logger:             logg,
	})
	if err != nil {
		return err
	}

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisPinger,
			registry,
			subscriptionService,
			billingService,
			stripeClient,
			webhookService,
			guard,
			webhookMetrics,
		),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
