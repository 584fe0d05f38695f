package stripewebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/internal/notifications"
	"github.com/localpros/localpros-backend/internal/subscriptions"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
)

const defaultFailureReason = "payment failed"

// expandableID accepts either a bare Stripe id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type paymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type paymentIntentRef struct {
	ID               string
	LastPaymentError *paymentError
}

func (p *paymentIntentRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &p.ID)
	}
	var obj struct {
		ID               string        `json:"id"`
		LastPaymentError *paymentError `json:"last_payment_error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.ID = obj.ID
	p.LastPaymentError = obj.LastPaymentError
	return nil
}

type invoiceLine struct {
	Price   expandableID `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price expandableID `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

func (l invoiceLine) priceRef() string {
	if l.Price != "" {
		return string(l.Price)
	}
	if l.Pricing != nil && l.Pricing.PriceDetails != nil {
		return string(l.Pricing.PriceDetails.Price)
	}
	return ""
}

// invoicePayload reads the invoice fields the handlers need. Older API
// versions put the subscription and payment intent on the invoice itself;
// newer ones nest the subscription under parent.
type invoicePayload struct {
	ID                 string            `json:"id"`
	Subscription       expandableID      `json:"subscription"`
	CustomerEmail      string            `json:"customer_email"`
	Currency           string            `json:"currency"`
	AmountPaid         int64             `json:"amount_paid"`
	AmountDue          int64             `json:"amount_due"`
	AttemptCount       int64             `json:"attempt_count"`
	NextPaymentAttempt int64             `json:"next_payment_attempt"`
	BillingReason      string            `json:"billing_reason"`
	HostedInvoiceURL   string            `json:"hosted_invoice_url"`
	PaymentIntent      *paymentIntentRef `json:"payment_intent"`
	Parent             *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

func decodeInvoice(raw []byte) (*invoicePayload, error) {
	var inv invoicePayload
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice")
	}
	return &inv, nil
}

func (inv *invoicePayload) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (inv *invoicePayload) firstLine() *invoiceLine {
	if len(inv.Lines.Data) == 0 {
		return nil
	}
	return &inv.Lines.Data[0]
}

func (inv *invoicePayload) paymentIntentID() *string {
	if inv.PaymentIntent == nil {
		return nil
	}
	return stringPtr(inv.PaymentIntent.ID)
}

func (inv *invoicePayload) paymentError() *paymentError {
	if inv.PaymentIntent == nil {
		return nil
	}
	return inv.PaymentIntent.LastPaymentError
}

func (inv *invoicePayload) failureReason() string {
	if perr := inv.paymentError(); perr != nil {
		for _, candidate := range []string{perr.Message, perr.DeclineCode, perr.Code} {
			if v := strings.TrimSpace(candidate); v != "" {
				return v
			}
		}
	}
	return defaultFailureReason
}

// failureMetadata is stored on failed payment transactions.
type failureMetadata struct {
	AttemptCount       int64      `json:"attemptCount"`
	NextPaymentAttempt *time.Time `json:"nextPaymentAttempt,omitempty"`
	BillingReason      string     `json:"billingReason,omitempty"`
	ErrorCode          string     `json:"errorCode,omitempty"`
	DeclineCode        string     `json:"declineCode,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	HostedInvoiceURL   string     `json:"hostedInvoiceUrl,omitempty"`
}

func (inv *invoicePayload) failureMetadata() (datatypes.JSON, error) {
	meta := failureMetadata{
		AttemptCount:     inv.AttemptCount,
		BillingReason:    inv.BillingReason,
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}
	if inv.NextPaymentAttempt > 0 {
		next := time.Unix(inv.NextPaymentAttempt, 0).UTC()
		meta.NextPaymentAttempt = &next
	}
	if perr := inv.paymentError(); perr != nil {
		meta.ErrorCode = perr.Code
		meta.DeclineCode = perr.DeclineCode
		meta.ErrorMessage = perr.Message
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func invoiceSucceededKey(invoiceID string) string {
	return "invoice:" + invoiceID + ":succeeded"
}

func invoiceFailedKey(invoiceID string, attempt int64) string {
	return fmt.Sprintf("invoice:%s:failed:%d", invoiceID, attempt)
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	inv, err := decodeInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	stripeSubID := inv.subscriptionID()
	if stripeSubID == "" || inv.ID == "" {
		s.logg.Debug(ctx, "invoice without subscription ignored")
		return nil
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", stripeSubID)
	dedupeKey := invoiceSucceededKey(inv.ID)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		sub, err := repo.FindSubscriptionByStripeID(ctx, stripeSubID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			s.logg.Info(ctx, "invoice for unknown subscription ignored")
			return nil
		}
		existing, err := repo.FindTransactionByDedupeKey(ctx, dedupeKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
		}
		if existing != nil {
			s.logg.Info(s.logg.WithField(ctx, "dedupe_key", dedupeKey), "invoice payment already recorded")
			return nil
		}

		before := subscriptions.SnapshotOf(sub)
		sub.Status = enums.SubscriptionStatusActive
		if line := inv.firstLine(); line != nil {
			if plan, ok := s.plans.Match(line.priceRef()); ok {
				sub.Tier = plan.Tier
				sub.BillingCycle = plan.Cycle
				sub.StripePriceID = stringPtr(line.priceRef())
			}
			if start := unixTime(line.Period.Start); start != nil {
				sub.CurrentPeriodStart = start
			}
			if end := unixTime(line.Period.End); end != nil {
				sub.CurrentPeriodEnd = end
			}
		}
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}

		diff := subscriptions.Compare(before, subscriptions.SnapshotOf(sub))
		if err := repo.CreateHistory(ctx, subscriptions.Record(sub.ID, subscriptions.Renewed{Diff: diff}, event.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
		}
		if err := s.recordTierChange(ctx, repo, sub.CompanyID, diff); err != nil {
			return err
		}

		amount := subscriptions.AmountFromMinor(inv.AmountPaid)
		currency := subscriptions.CurrencyOrDefault(inv.Currency, s.defaultCurrency)
		txn := &models.PaymentTransaction{
			SubscriptionID:        sub.ID,
			CompanyID:             sub.CompanyID,
			DedupeKey:             dedupeKey,
			StripeInvoiceID:       stringPtr(inv.ID),
			StripePaymentIntentID: inv.paymentIntentID(),
			Amount:                amount,
			Currency:              currency,
			Status:                enums.PaymentStatusSucceeded,
			PaymentMethod:         enums.PaymentMethodStripe,
			BillingCycle:          sub.BillingCycle,
			Tier:                  sub.Tier,
			Description:           stringPtr(fmt.Sprintf("%s plan (%s) renewal", sub.Tier.Title(), sub.BillingCycle)),
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}

		company, err := s.loadCompany(ctx, repo, sub.CompanyID)
		if err != nil {
			return err
		}
		s.notify(ctx, tx, string(enums.EmailKindPaymentSucceeded), func(tx *gorm.DB) error {
			return s.notifier.PaymentSucceeded(ctx, tx, notifications.PaymentSucceeded{
				SubscriptionID: sub.ID,
				CompanyID:      sub.CompanyID,
				Recipient:      recipientFor(company, inv.CustomerEmail),
				CompanyName:    companyName(company),
				Amount:         amount,
				Currency:       currency,
				Tier:           sub.Tier,
				Cycle:          sub.BillingCycle,
			})
		})

		s.logg.Info(s.logg.WithField(ctx, "previous_status", before.Status), "invoice payment applied")
		return nil
	})
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	inv, err := decodeInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	stripeSubID := inv.subscriptionID()
	if stripeSubID == "" || inv.ID == "" {
		s.logg.Debug(ctx, "invoice without subscription ignored")
		return nil
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", stripeSubID)
	dedupeKey := invoiceFailedKey(inv.ID, inv.AttemptCount)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		sub, err := repo.FindSubscriptionByStripeID(ctx, stripeSubID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			s.logg.Info(ctx, "failed invoice for unknown subscription ignored")
			return nil
		}
		existing, err := repo.FindTransactionByDedupeKey(ctx, dedupeKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
		}
		if existing != nil {
			s.logg.Info(s.logg.WithField(ctx, "dedupe_key", dedupeKey), "payment failure already recorded")
			return nil
		}

		before := subscriptions.SnapshotOf(sub)
		sub.Status = enums.SubscriptionStatusPastDue
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}

		meta, err := inv.failureMetadata()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode failure metadata")
		}
		amount := subscriptions.AmountFromMinor(inv.AmountDue)
		currency := subscriptions.CurrencyOrDefault(inv.Currency, s.defaultCurrency)
		reason := inv.failureReason()
		txn := &models.PaymentTransaction{
			SubscriptionID:        sub.ID,
			CompanyID:             sub.CompanyID,
			DedupeKey:             dedupeKey,
			StripeInvoiceID:       stringPtr(inv.ID),
			StripePaymentIntentID: inv.paymentIntentID(),
			Amount:                amount,
			Currency:              currency,
			Status:                enums.PaymentStatusFailed,
			PaymentMethod:         enums.PaymentMethodStripe,
			BillingCycle:          sub.BillingCycle,
			Tier:                  sub.Tier,
			Description:           stringPtr(reason),
			FailureMetadata:       meta,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
		}

		diff := subscriptions.Compare(before, subscriptions.SnapshotOf(sub))
		entry := subscriptions.Record(sub.ID, subscriptions.PaymentFailed{Diff: diff, Reason: reason}, event.ID)
		if err := repo.CreateHistory(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription history")
		}

		company, err := s.loadCompany(ctx, repo, sub.CompanyID)
		if err != nil {
			return err
		}
		s.notify(ctx, tx, string(enums.EmailKindPaymentFailed), func(tx *gorm.DB) error {
			return s.notifier.PaymentFailed(ctx, tx, notifications.PaymentFailed{
				SubscriptionID: sub.ID,
				CompanyID:      sub.CompanyID,
				Recipient:      recipientFor(company, inv.CustomerEmail),
				CompanyName:    companyName(company),
				Amount:         amount,
				Currency:       currency,
				Reason:         reason,
				InvoiceURL:     inv.HostedInvoiceURL,
			})
		})

		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"attempt_count": inv.AttemptCount,
			"reason":        reason,
		}), "invoice payment failed")
		return nil
	})
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
