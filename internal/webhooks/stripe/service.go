package stripewebhook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/internal/billing"
	"github.com/localpros/localpros-backend/internal/notifications"
	"github.com/localpros/localpros-backend/internal/subscriptions"
	"github.com/localpros/localpros-backend/pkg/db/models"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
)

const notifySavepoint = "notify"

type subscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// Notifier queues billing emails inside the caller's transaction.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, tx *gorm.DB, msg notifications.PaymentSucceeded) error
	PaymentFailed(ctx context.Context, tx *gorm.DB, msg notifications.PaymentFailed) error
	SubscriptionActivated(ctx context.Context, tx *gorm.DB, msg notifications.SubscriptionActivated) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Stripe            subscriptionFetcher
	Plans             subscriptions.PlanMatcher
	Notifier          Notifier
	TransactionRunner txRunner
	TestCompanyID     string
	DefaultCurrency   string
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service applies Stripe events to local subscription state.
type Service struct {
	billingRepo     billing.Repository
	stripe          subscriptionFetcher
	plans           subscriptions.PlanMatcher
	notifier        Notifier
	txRunner        txRunner
	testCompanyID   string
	defaultCurrency string
	logg            *logger.Logger
	now             func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan resolver required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		billingRepo:     params.BillingRepo,
		stripe:          params.Stripe,
		plans:           params.Plans,
		notifier:        params.Notifier,
		txRunner:        params.TransactionRunner,
		testCompanyID:   strings.TrimSpace(params.TestCompanyID),
		defaultCurrency: currency,
		logg:            logg,
		now:             now,
	}, nil
}

// HandleEvent dispatches event to its handler. handled is false for event
// types this service does not act on; those are acknowledged without work.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	if event == nil || event.Data == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEvent(ctx, event.ID, string(event.Type))

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return true, s.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return true, s.handleInvoicePaymentSucceeded(ctx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return true, s.handleSubscriptionUpdated(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return true, s.handleSubscriptionDeleted(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return true, s.handleInvoicePaymentFailed(ctx, event)
	default:
		s.logg.Debug(ctx, "stripe event ignored")
		return false, nil
	}
}

// notify runs enqueue behind a savepoint. A failed enqueue is rolled back and
// logged; the surrounding billing writes still commit.
func (s *Service) notify(ctx context.Context, tx *gorm.DB, kind string, enqueue func(tx *gorm.DB) error) {
	logCtx := s.logg.WithField(ctx, "email_kind", kind)
	if err := tx.SavePoint(notifySavepoint).Error; err != nil {
		s.logg.Error(logCtx, "notification savepoint failed", err)
		return
	}
	if err := enqueue(tx); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "notification not queued")
		if rbErr := tx.RollbackTo(notifySavepoint).Error; rbErr != nil {
			s.logg.Error(logCtx, "rollback notification savepoint", rbErr)
		}
	}
}

func (s *Service) recordTierChange(ctx context.Context, repo billing.Repository, companyID uuid.UUID, diff subscriptions.Diff) error {
	if diff.Tier == nil {
		return nil
	}
	if err := repo.UpdateCompanyPricingTier(ctx, companyID, diff.Tier.To); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update company pricing tier")
	}
	return nil
}

func (s *Service) loadCompany(ctx context.Context, repo billing.Repository, id uuid.UUID) (*models.Company, error) {
	company, err := repo.FindCompany(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load company")
	}
	return company, nil
}

// recipientFor prefers the company's billing address over the address Stripe
// collected.
func recipientFor(company *models.Company, fallback string) string {
	if company != nil && company.BillingEmail != nil {
		if email := strings.TrimSpace(*company.BillingEmail); email != "" {
			return email
		}
	}
	return strings.TrimSpace(fallback)
}

func companyName(company *models.Company) string {
	if company == nil {
		return ""
	}
	return company.Name
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
