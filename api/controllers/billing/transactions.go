package billing

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/localpros/localpros-backend/api/controllers/partnercontext"
	"github.com/localpros/localpros-backend/api/responses"
	"github.com/localpros/localpros-backend/api/validators"
	billingsvc "github.com/localpros/localpros-backend/internal/billing"
	"github.com/localpros/localpros-backend/pkg/db/models"
	"github.com/localpros/localpros-backend/pkg/enums"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/pagination"
)

type transactionResponse struct {
	ID              uuid.UUID       `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Tier            string          `json:"tier"`
	BillingCycle    string          `json:"billing_cycle"`
	Description     *string         `json:"description,omitempty"`
	StripeInvoiceID *string         `json:"stripe_invoice_id,omitempty"`
	FailureMetadata json.RawMessage `json:"failure_metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type transactionsResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Cursor       string                `json:"cursor"`
}

// PartnerTransactions lists the caller's payment attempts, newest first.
func PartnerTransactions(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		companyID, err := partnercontext.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status, err := validators.ParseQueryEnum(r, "status", enums.ParsePaymentStatus)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ListTransactions(ctx, billingsvc.ListTransactionsParams{
			CompanyID: companyID,
			Limit:     limit,
			Cursor:    r.URL.Query().Get("cursor"),
			Status:    status,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]transactionResponse, 0, len(result.Items))
		for i := range result.Items {
			out = append(out, newTransactionResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, transactionsResponse{Transactions: out, Cursor: result.Cursor})
	}
}

func newTransactionResponse(tx *models.PaymentTransaction) transactionResponse {
	resp := transactionResponse{
		ID:              tx.ID,
		Amount:          tx.Amount,
		Currency:        strings.ToUpper(tx.Currency),
		Status:          string(tx.Status),
		Tier:            string(tx.Tier),
		BillingCycle:    string(tx.BillingCycle),
		Description:     tx.Description,
		StripeInvoiceID: tx.StripeInvoiceID,
		CreatedAt:       tx.CreatedAt,
	}
	if len(tx.FailureMetadata) > 0 {
		resp.FailureMetadata = json.RawMessage(tx.FailureMetadata)
	}
	return resp
}
