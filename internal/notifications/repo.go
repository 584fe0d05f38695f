package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/db/models"
)

// EmailLogRepository appends email_logs rows.
type EmailLogRepository struct {
	db *gorm.DB
}

func NewEmailLogRepository(db *gorm.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

func (r *EmailLogRepository) CreateTx(tx *gorm.DB, entry *models.EmailLog) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(entry).Error
}

// ListByOutboxEvent returns send attempts for one outbox row, oldest first.
func (r *EmailLogRepository) ListByOutboxEvent(ctx context.Context, outboxID uuid.UUID) ([]models.EmailLog, error) {
	var rows []models.EmailLog
	err := r.db.WithContext(ctx).
		Where("outbox_event_id = ?", outboxID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
