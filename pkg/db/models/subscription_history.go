package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// SubscriptionHistory is an append-only audit entry. Previous/New pairs are
// only set for fields that changed in the recorded transition.
type SubscriptionHistory struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID                 `gorm:"column:subscription_id;type:uuid;not null;index"`
	Action         enums.HistoryAction       `gorm:"column:action;not null"`
	PreviousTier   *enums.PricingTier        `gorm:"column:previous_tier"`
	NewTier        *enums.PricingTier        `gorm:"column:new_tier"`
	PreviousStatus *enums.SubscriptionStatus `gorm:"column:previous_status"`
	NewStatus      *enums.SubscriptionStatus `gorm:"column:new_status"`
	PreviousCycle  *enums.BillingCycle       `gorm:"column:previous_billing_cycle"`
	NewCycle       *enums.BillingCycle       `gorm:"column:new_billing_cycle"`
	Reason         *string                   `gorm:"column:reason"`
	StripeEventID  *string                   `gorm:"column:stripe_event_id"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (SubscriptionHistory) TableName() string { return "subscription_history" }

func (h *SubscriptionHistory) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}
