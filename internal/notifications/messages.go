// Package notifications queues transactional billing emails through the
// outbox and delivers them from the notifier process.
package notifications

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/localpros/localpros-backend/pkg/enums"
	"github.com/localpros/localpros-backend/pkg/outbox"
)

// EmailRequestVersion is the payload version written into the outbox envelope.
const EmailRequestVersion = 1

// PaymentSucceeded is queued after a successful charge.
type PaymentSucceeded struct {
	SubscriptionID uuid.UUID
	CompanyID      uuid.UUID
	Recipient      string
	CompanyName    string
	Amount         decimal.Decimal
	Currency       string
	Tier           enums.PricingTier
	Cycle          enums.BillingCycle
}

// PaymentFailed is queued after a declined or failed invoice payment.
type PaymentFailed struct {
	SubscriptionID uuid.UUID
	CompanyID      uuid.UUID
	Recipient      string
	CompanyName    string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	InvoiceURL     string
}

// SubscriptionActivated is queued when checkout creates a subscription.
type SubscriptionActivated struct {
	SubscriptionID uuid.UUID
	CompanyID      uuid.UUID
	Recipient      string
	CompanyName    string
	Tier           enums.PricingTier
	Cycle          enums.BillingCycle
}

// EmailRequest is the outbox payload for one email.
type EmailRequest struct {
	Kind        enums.EmailKind    `json:"kind" validate:"required"`
	CompanyID   uuid.UUID          `json:"companyId" validate:"required"`
	Recipient   string             `json:"recipient" validate:"required,email"`
	CompanyName string             `json:"companyName" validate:"required,max=200"`
	Amount      *decimal.Decimal   `json:"amount,omitempty"`
	Currency    string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	Tier        enums.PricingTier  `json:"tier,omitempty"`
	Cycle       enums.BillingCycle `json:"cycle,omitempty"`
	Reason      string             `json:"reason,omitempty" validate:"max=500"`
	InvoiceURL  string             `json:"invoiceUrl,omitempty" validate:"omitempty,url"`
}

// Validate checks field formats and the per-kind required fields.
func (r EmailRequest) Validate(v *validator.Validate) error {
	if err := v.Struct(r); err != nil {
		return err
	}
	switch r.Kind {
	case enums.EmailKindPaymentSucceeded, enums.EmailKindPaymentFailed:
		if r.Amount == nil {
			return fmt.Errorf("%s email requires an amount", r.Kind)
		}
		if r.Currency == "" {
			return fmt.Errorf("%s email requires a currency", r.Kind)
		}
	case enums.EmailKindSubscriptionActivated:
		if !r.Tier.IsValid() || !r.Cycle.IsValid() {
			return errors.New("activation email requires tier and cycle")
		}
	default:
		return fmt.Errorf("unknown email kind %q", r.Kind)
	}
	return nil
}

// RegisterDecoders adds the email payload decoders to reg.
func RegisterDecoders(reg *outbox.DecoderRegistry) {
	reg.Register(enums.EventEmailRequested, EmailRequestVersion, outbox.JSONDecoder[EmailRequest]())
}
