package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localpros/localpros-backend/api/controllers"
	billingcontrollers "github.com/localpros/localpros-backend/api/controllers/billing"
	subscriptioncontrollers "github.com/localpros/localpros-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/localpros/localpros-backend/api/controllers/webhooks"
	"github.com/localpros/localpros-backend/api/middleware"
	billingsvc "github.com/localpros/localpros-backend/internal/billing"
	subscriptionsvc "github.com/localpros/localpros-backend/internal/subscriptions"
	stripewebhook "github.com/localpros/localpros-backend/internal/webhooks/stripe"
	"github.com/localpros/localpros-backend/pkg/config"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
	"github.com/localpros/localpros-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	gatherer prometheus.Gatherer,
	subscriptionsService subscriptionsvc.Service,
	billingService billingsvc.Service,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *metrics.WebhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisP,
		}))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	stripeHandler := webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, nil, webhookMetrics, logg)
	if stripeWebhookGuard != nil {
		stripeHandler = webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, webhookMetrics, logg)
	}
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", stripeHandler)
	})

	r.Route("/api/v1/partner", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.PartnerSubscriptionFetch(subscriptionsService, logg))
			r.Get("/history", subscriptioncontrollers.PartnerSubscriptionHistory(subscriptionsService, logg))
			r.With(middleware.RequireBillingManager(logg)).Post("/cancel", subscriptioncontrollers.PartnerSubscriptionCancel(subscriptionsService, logg))
		})
		r.Get("/billing/transactions", billingcontrollers.PartnerTransactions(billingService, logg))
	})

	return r
}
