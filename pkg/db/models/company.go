package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// Company is the partner business that owns listings and subscriptions.
type Company struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string            `gorm:"column:name;not null"`
	BillingEmail     *string           `gorm:"column:billing_email"`
	PricingTier      enums.PricingTier `gorm:"column:pricing_tier;not null;default:'standard'"`
	StripeCustomerID *string           `gorm:"column:stripe_customer_id"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Company) TableName() string { return "companies" }

func (c *Company) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
