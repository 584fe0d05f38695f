package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/internal/billing"
	"github.com/localpros/localpros-backend/internal/notifications"
	"github.com/localpros/localpros-backend/internal/subscriptions"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
)

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}

	companyRef := checkoutCompanyRef(session.Metadata)
	if s.testCompanyID != "" && companyRef == s.testCompanyID {
		s.logg.Info(ctx, "test checkout ignored")
		return nil
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil || session.Subscription.ID == "" {
		s.logg.Debug(ctx, "checkout session without subscription ignored")
		return nil
	}
	companyID, err := uuid.Parse(companyRef)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "company_ref", companyRef), "checkout session has no valid company reference")
		return nil
	}
	ctx = s.logg.WithCompanyID(ctx, companyID.String())

	remote, err := s.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	state := subscriptions.StateFromStripe(remote)
	if state.SubscriptionID == "" {
		state.SubscriptionID = session.Subscription.ID
	}
	if state.CustomerID == "" && session.Customer != nil {
		state.CustomerID = session.Customer.ID
	}
	projection := subscriptions.Project(state, s.plans)

	amount := subscriptions.AmountFromMinor(session.AmountTotal)
	currency := subscriptions.CurrencyOrDefault(string(session.Currency), s.defaultCurrency)
	dedupeKey := checkoutDedupeKey(&session)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		company, err := s.loadCompany(ctx, repo, companyID)
		if err != nil {
			return err
		}
		if company == nil {
			s.logg.Warn(ctx, "checkout for unknown company ignored")
			return nil
		}

		sub := &models.Subscription{CompanyID: companyID}
		projection.Apply(sub)
		inserted, err := repo.InsertSubscriptionIfAbsent(ctx, sub)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		if inserted {
			entry := subscriptions.Record(sub.ID, subscriptions.Created{Initial: projection.Snapshot()}, event.ID)
			if err := repo.CreateHistory(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
			}
			if err := s.supersedeOpenSubscriptions(ctx, repo, sub, event.ID); err != nil {
				return err
			}
		} else {
			projection.Apply(sub)
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
			}
		}

		if company.PricingTier != sub.Tier {
			if err := repo.UpdateCompanyPricingTier(ctx, companyID, sub.Tier); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update company pricing tier")
			}
		}

		existing, err := repo.FindTransactionByDedupeKey(ctx, dedupeKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
		}
		if existing != nil {
			s.logg.Info(s.logg.WithField(ctx, "dedupe_key", dedupeKey), "checkout payment already recorded")
			return nil
		}

		txn := &models.PaymentTransaction{
			SubscriptionID:  sub.ID,
			CompanyID:       companyID,
			DedupeKey:       dedupeKey,
			StripeInvoiceID: checkoutInvoiceID(&session),
			Amount:          amount,
			Currency:        currency,
			Status:          enums.PaymentStatusSucceeded,
			PaymentMethod:   enums.PaymentMethodStripe,
			BillingCycle:    sub.BillingCycle,
			Tier:            sub.Tier,
			Description:     stringPtr(fmt.Sprintf("%s plan (%s) checkout", sub.Tier.Title(), sub.BillingCycle)),
		}
		if session.PaymentIntent != nil {
			txn.StripePaymentIntentID = stringPtr(session.PaymentIntent.ID)
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}

		recipient := recipientFor(company, checkoutEmail(&session))
		s.notify(ctx, tx, string(enums.EmailKindPaymentSucceeded), func(tx *gorm.DB) error {
			return s.notifier.PaymentSucceeded(ctx, tx, notifications.PaymentSucceeded{
				SubscriptionID: sub.ID,
				CompanyID:      companyID,
				Recipient:      recipient,
				CompanyName:    company.Name,
				Amount:         amount,
				Currency:       currency,
				Tier:           sub.Tier,
				Cycle:          sub.BillingCycle,
			})
		})
		s.notify(ctx, tx, string(enums.EmailKindSubscriptionActivated), func(tx *gorm.DB) error {
			return s.notifier.SubscriptionActivated(ctx, tx, notifications.SubscriptionActivated{
				SubscriptionID: sub.ID,
				CompanyID:      companyID,
				Recipient:      recipient,
				CompanyName:    company.Name,
				Tier:           sub.Tier,
				Cycle:          sub.BillingCycle,
			})
		})

		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"subscription_id": sub.ID.String(),
			"tier":            sub.Tier,
			"billing_cycle":   sub.BillingCycle,
			"created":         inserted,
		}), "checkout applied")
		return nil
	})
}

// supersedeOpenSubscriptions keeps at most one open subscription per company.
// Older active or past_due rows move to inactive when a new open row lands.
func (s *Service) supersedeOpenSubscriptions(ctx context.Context, repo billing.Repository, current *models.Subscription, eventID string) error {
	if current.Status != enums.SubscriptionStatusActive && current.Status != enums.SubscriptionStatusPastDue {
		return nil
	}
	open, err := repo.ListOpenSubscriptionsByCompany(ctx, current.CompanyID, current.StripeSubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open subscriptions")
	}
	for i := range open {
		previous := &open[i]
		before := subscriptions.SnapshotOf(previous)
		previous.Status = enums.SubscriptionStatusInactive
		if err := repo.UpdateSubscription(ctx, previous); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "supersede subscription")
		}
		diff := subscriptions.Compare(before, subscriptions.SnapshotOf(previous))
		if err := repo.CreateHistory(ctx, subscriptions.Record(previous.ID, subscriptions.Updated{Diff: diff}, eventID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"superseded_stripe_subscription_id": previous.StripeSubscriptionID,
			"previous_status":                   before.Status,
		}), "open subscription superseded by checkout")
	}
	return nil
}

func checkoutCompanyRef(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	if ref := strings.TrimSpace(meta["companyId"]); ref != "" {
		return ref
	}
	return strings.TrimSpace(meta["company_id"])
}

// checkoutDedupeKey shares the invoice key with invoice.payment_succeeded so
// the first invoice is only recorded once, whichever event lands first.
func checkoutDedupeKey(session *stripe.CheckoutSession) string {
	if id := checkoutInvoiceID(session); id != nil {
		return invoiceSucceededKey(*id)
	}
	return "checkout:" + session.ID
}

func checkoutInvoiceID(session *stripe.CheckoutSession) *string {
	if session.Invoice == nil || session.Invoice.ID == "" {
		return nil
	}
	id := session.Invoice.ID
	return &id
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
