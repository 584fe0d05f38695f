package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/pagination"
)

// Service exposes read-side billing queries for partners.
type Service interface {
	ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error)
}

// ServiceParams groups billing service dependencies.
type ServiceParams struct {
	Repo Repository
}

// ListTransactionsParams captures the partner-facing filters.
type ListTransactionsParams struct {
	CompanyID uuid.UUID
	Limit     int
	Cursor    string
	Status    *enums.PaymentStatus
}

// ListTransactionsResult is one page of transactions.
type ListTransactionsResult struct {
	Items  []models.PaymentTransaction `json:"items"`
	Cursor string                      `json:"cursor"`
}

type service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repository required")
	}
	return &service{repo: params.Repo}, nil
}

func (s *service) ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error) {
	if params.CompanyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.ListTransactions(ctx, ListTransactionsQuery{
		CompanyID: params.CompanyID,
		Limit:     params.Limit,
		Cursor:    cursor,
		Status:    params.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment transactions")
	}
	if items == nil {
		items = []models.PaymentTransaction{}
	}
	return &ListTransactionsResult{Items: items, Cursor: next}, nil
}
