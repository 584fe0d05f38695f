package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// PaymentTransaction records one charge attempt. Rows are immutable; DedupeKey
// ties a row to the provider object that produced it.
type PaymentTransaction struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID        uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	CompanyID             uuid.UUID           `gorm:"column:company_id;type:uuid;not null;index"`
	DedupeKey             string              `gorm:"column:dedupe_key;not null;unique"`
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id"`
	StripeInvoiceID       *string             `gorm:"column:stripe_invoice_id"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency              string              `gorm:"column:currency;not null"`
	Status                enums.PaymentStatus `gorm:"column:status;not null"`
	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;not null"`
	BillingCycle          enums.BillingCycle  `gorm:"column:billing_cycle;not null"`
	Tier                  enums.PricingTier   `gorm:"column:tier;not null"`
	Description           *string             `gorm:"column:description"`
	FailureMetadata       datatypes.JSON      `gorm:"column:failure_metadata"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (p *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
