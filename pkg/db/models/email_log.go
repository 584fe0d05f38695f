package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
)

// EmailLog notes that a notification send was attempted. Informational only.
type EmailLog struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OutboxEventID *uuid.UUID        `gorm:"column:outbox_event_id;type:uuid;index"`
	CompanyID     *uuid.UUID        `gorm:"column:company_id;type:uuid"`
	Kind          enums.EmailKind   `gorm:"column:kind;not null"`
	Recipient     string            `gorm:"column:recipient;not null"`
	Subject       string            `gorm:"column:subject;not null"`
	Status        enums.EmailStatus `gorm:"column:status;not null"`
	Error         *string           `gorm:"column:error"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (e *EmailLog) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
