package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localpros/localpros-backend/pkg/enums"
	"github.com/localpros/localpros-backend/pkg/outbox"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Enqueuer writes email requests to the outbox inside the caller's
// transaction. Delivery happens later in the notifier.
type Enqueuer struct {
	outbox   emitter
	validate *validator.Validate
}

func NewEnqueuer(out emitter) (*Enqueuer, error) {
	if out == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &Enqueuer{outbox: out, validate: validator.New()}, nil
}

func (e *Enqueuer) PaymentSucceeded(ctx context.Context, tx *gorm.DB, msg PaymentSucceeded) error {
	amount := msg.Amount
	return e.emit(ctx, tx, msg.SubscriptionID, EmailRequest{
		Kind:        enums.EmailKindPaymentSucceeded,
		CompanyID:   msg.CompanyID,
		Recipient:   strings.TrimSpace(msg.Recipient),
		CompanyName: msg.CompanyName,
		Amount:      &amount,
		Currency:    strings.ToLower(msg.Currency),
		Tier:        msg.Tier,
		Cycle:       msg.Cycle,
	})
}

func (e *Enqueuer) PaymentFailed(ctx context.Context, tx *gorm.DB, msg PaymentFailed) error {
	amount := msg.Amount
	return e.emit(ctx, tx, msg.SubscriptionID, EmailRequest{
		Kind:        enums.EmailKindPaymentFailed,
		CompanyID:   msg.CompanyID,
		Recipient:   strings.TrimSpace(msg.Recipient),
		CompanyName: msg.CompanyName,
		Amount:      &amount,
		Currency:    strings.ToLower(msg.Currency),
		Reason:      msg.Reason,
		InvoiceURL:  msg.InvoiceURL,
	})
}

func (e *Enqueuer) SubscriptionActivated(ctx context.Context, tx *gorm.DB, msg SubscriptionActivated) error {
	return e.emit(ctx, tx, msg.SubscriptionID, EmailRequest{
		Kind:        enums.EmailKindSubscriptionActivated,
		CompanyID:   msg.CompanyID,
		Recipient:   strings.TrimSpace(msg.Recipient),
		CompanyName: msg.CompanyName,
		Tier:        msg.Tier,
		Cycle:       msg.Cycle,
	})
}

func (e *Enqueuer) emit(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, req EmailRequest) error {
	if err := req.Validate(e.validate); err != nil {
		return err
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEmailRequested,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   subscriptionID,
		Data:          req,
		Version:       EmailRequestVersion,
	})
}
