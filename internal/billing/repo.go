package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	"github.com/localpros/localpros-backend/pkg/pagination"
)

// Repository handles billing persistence. Finders return (nil, nil) when no
// row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindLatestSubscriptionByCompany(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error)
	ListOpenSubscriptionsByCompany(ctx context.Context, companyID uuid.UUID, exceptStripeID string) ([]models.Subscription, error)
	InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error)
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	CreateHistory(ctx context.Context, entry *models.SubscriptionHistory) error
	HasHistoryAction(ctx context.Context, subscriptionID uuid.UUID, action enums.HistoryAction) (bool, error)
	ListHistory(ctx context.Context, params ListHistoryQuery) ([]models.SubscriptionHistory, string, error)
	FindTransactionByDedupeKey(ctx context.Context, key string) (*models.PaymentTransaction, error)
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.PaymentTransaction, string, error)
	FindCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	UpdateCompanyPricingTier(ctx context.Context, id uuid.UUID, tier enums.PricingTier) error
}

type repository struct {
	db *gorm.DB
}

// ListHistoryQuery pages through one subscription's history, newest first.
type ListHistoryQuery struct {
	SubscriptionID uuid.UUID
	Limit          int
	Cursor         *pagination.Cursor
}

// ListTransactionsQuery pages through a company's payment transactions, newest first.
type ListTransactionsQuery struct {
	CompanyID uuid.UUID
	Limit     int
	Cursor    *pagination.Cursor
	Status    *enums.PaymentStatus
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindLatestSubscriptionByCompany(ctx context.Context, companyID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListOpenSubscriptionsByCompany returns the company's active and past_due
// subscriptions other than exceptStripeID, oldest first.
func (r *repository) ListOpenSubscriptionsByCompany(ctx context.Context, companyID uuid.UUID, exceptStripeID string) ([]models.Subscription, error) {
	var rows []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("status IN ?", []enums.SubscriptionStatus{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue}).
		Where("stripe_subscription_id <> ?", exceptStripeID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertSubscriptionIfAbsent inserts subscription unless a row with the same
// Stripe subscription id exists. On conflict the stored row is loaded into
// subscription and false is returned.
func (r *repository) InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoNothing: true,
		}).
		Create(subscription)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var existing models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscription.StripeSubscriptionID).
		First(&existing).Error; err != nil {
		return false, err
	}
	*subscription = existing
	return false, nil
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) CreateHistory(ctx context.Context, entry *models.SubscriptionHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) HasHistoryAction(ctx context.Context, subscriptionID uuid.UUID, action enums.HistoryAction) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.SubscriptionHistory{}).
		Where("subscription_id = ? AND action = ?", subscriptionID, action).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repository) ListHistory(ctx context.Context, params ListHistoryQuery) ([]models.SubscriptionHistory, string, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SubscriptionHistory{}).
		Where("subscription_id = ?", params.SubscriptionID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.SubscriptionHistory
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	page, next := pagination.Trim(rows, params.Limit, func(h models.SubscriptionHistory) pagination.Cursor {
		return pagination.Cursor{CreatedAt: h.CreatedAt, ID: h.ID}
	})
	return page, next, nil
}

func (r *repository) FindTransactionByDedupeKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("dedupe_key = ?", key).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.PaymentTransaction, string, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("company_id = ?", params.CompanyID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.PaymentTransaction
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	page, next := pagination.Trim(rows, params.Limit, func(t models.PaymentTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, next, nil
}

func (r *repository) FindCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func (r *repository) UpdateCompanyPricingTier(ctx context.Context, id uuid.UUID, tier enums.PricingTier) error {
	return r.db.WithContext(ctx).
		Model(&models.Company{}).
		Where("id = ?", id).
		Update("pricing_tier", tier).Error
}
