package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// Subscription persists the projected Stripe subscription state per company.
// Rows are never deleted; cancellation sets Status and EndedAt.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID            uuid.UUID                `gorm:"column:company_id;type:uuid;not null;index"`
	Tier                 enums.PricingTier        `gorm:"column:tier;not null"`
	BillingCycle         enums.BillingCycle       `gorm:"column:billing_cycle;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	StripePriceID        *string                  `gorm:"column:stripe_price_id"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelAt             *time.Time               `gorm:"column:cancel_at"`
	EndedAt              *time.Time               `gorm:"column:ended_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
