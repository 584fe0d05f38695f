package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/internal/billing"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/pagination"
)

const recentHistoryLimit = 10

// StripeCanceler schedules a provider-side cancellation.
type StripeCanceler interface {
	ScheduleCancellation(ctx context.Context, id string, cancelAt time.Time, reason string) (*stripe.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the partner-facing subscription surface.
type Service interface {
	GetCurrent(ctx context.Context, companyID uuid.UUID) (*Overview, error)
	ListHistory(ctx context.Context, companyID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo        billing.Repository
	Stripe             StripeCanceler
	TransactionRunner  txRunner
	CancelNoticeMonths int
	Logger             *logger.Logger
	Now                func() time.Time
}

// Overview is the latest subscription with its most recent history.
type Overview struct {
	Subscription models.Subscription
	History      []models.SubscriptionHistory
}

// HistoryPage is one page of history entries, newest first.
type HistoryPage struct {
	Items  []models.SubscriptionHistory
	Cursor string
}

// CancelInput captures a partner's cancellation request.
type CancelInput struct {
	CompanyID uuid.UUID
	Role      enums.PartnerRole
	Reason    string
}

type service struct {
	repo         billing.Repository
	stripe       StripeCanceler
	txRunner     txRunner
	noticeMonths int
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, errors.New("billing repo required")
	}
	if params.Stripe == nil {
		return nil, errors.New("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.CancelNoticeMonths < 0 {
		return nil, errors.New("cancel notice months must not be negative")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:         params.BillingRepo,
		stripe:       params.Stripe,
		txRunner:     params.TransactionRunner,
		noticeMonths: params.CancelNoticeMonths,
		logg:         logg,
		now:          now,
	}, nil
}

// GetCurrent returns the company's latest subscription.
func (s *service) GetCurrent(ctx context.Context, companyID uuid.UUID) (*Overview, error) {
	sub, err := s.latest(ctx, companyID)
	if err != nil {
		return nil, err
	}
	history, _, err := s.repo.ListHistory(ctx, billing.ListHistoryQuery{
		SubscriptionID: sub.ID,
		Limit:          recentHistoryLimit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription history")
	}
	return &Overview{Subscription: *sub, History: history}, nil
}

func (s *service) ListHistory(ctx context.Context, companyID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	sub, err := s.latest(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items, next, err := s.repo.ListHistory(ctx, billing.ListHistoryQuery{
		SubscriptionID: sub.ID,
		Limit:          params.Limit,
		Cursor:         cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscription history")
	}
	if items == nil {
		items = []models.SubscriptionHistory{}
	}
	return &HistoryPage{Items: items, Cursor: next}, nil
}

// Cancel schedules the end of the subscription CancelNoticeMonths calendar
// months after the current period ends. History is written later, when
// Stripe reports the change through webhooks.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Subscription, error) {
	if !input.Role.CanManageBilling() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only owners and admins can cancel the subscription")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}

	sub, err := s.latest(ctx, input.CompanyID)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already canceled")
	}
	if sub.CancelAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancellation already scheduled")
	}

	cancelAt := s.cancelAt(sub)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"company_id":             input.CompanyID.String(),
		"stripe_subscription_id": sub.StripeSubscriptionID,
		"cancel_at":              cancelAt.Format(time.RFC3339),
	})

	remote, err := s.stripe.ScheduleCancellation(ctx, sub.StripeSubscriptionID, cancelAt, reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule stripe cancellation")
	}

	var updated *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		stored, err := txRepo.FindSubscriptionByStripeID(ctx, sub.StripeSubscriptionID)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		stored.CancelAt = &cancelAt
		if remote != nil {
			stored.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		}
		if err := txRepo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		updated = stored
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist cancellation")
	}

	s.logg.Info(ctx, "subscription cancellation scheduled")
	return updated, nil
}

func (s *service) cancelAt(sub *models.Subscription) time.Time {
	base := s.now()
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(base) {
		base = *sub.CurrentPeriodEnd
	}
	return base.UTC().AddDate(0, s.noticeMonths, 0)
}

func (s *service) latest(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	sub, err := s.repo.FindLatestSubscriptionByCompany(ctx, companyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}
