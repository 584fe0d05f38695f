package subscriptions

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/api/controllers/partnercontext"
	"github.com/localpros/localpros-backend/api/middleware"
	"github.com/localpros/localpros-backend/api/responses"
	"github.com/localpros/localpros-backend/api/validators"
	subsvc "github.com/localpros/localpros-backend/internal/subscriptions"
	"github.com/localpros/localpros-backend/pkg/db/models"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/pagination"
)

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type subscriptionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Tier                 string     `json:"tier"`
	BillingCycle         string     `json:"billing_cycle"`
	Status               string     `json:"status"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	StripePriceID        *string    `json:"stripe_price_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
}

type historyEntryResponse struct {
	ID             uuid.UUID `json:"id"`
	Action         string    `json:"action"`
	PreviousTier   *string   `json:"previous_tier,omitempty"`
	NewTier        *string   `json:"new_tier,omitempty"`
	PreviousStatus *string   `json:"previous_status,omitempty"`
	NewStatus      *string   `json:"new_status,omitempty"`
	PreviousCycle  *string   `json:"previous_billing_cycle,omitempty"`
	NewCycle       *string   `json:"new_billing_cycle,omitempty"`
	Reason         *string   `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type overviewResponse struct {
	Subscription subscriptionResponse   `json:"subscription"`
	History      []historyEntryResponse `json:"history"`
}

type historyPageResponse struct {
	Items  []historyEntryResponse `json:"items"`
	Cursor string                 `json:"cursor"`
}

func PartnerSubscriptionFetch(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		companyID, err := partnercontext.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		overview, err := svc.GetCurrent(r.Context(), companyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, overviewResponse{
			Subscription: newSubscriptionResponse(&overview.Subscription),
			History:      newHistoryResponses(overview.History),
		})
	}
}

func PartnerSubscriptionHistory(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		companyID, err := partnercontext.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListHistory(r.Context(), companyID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, historyPageResponse{
			Items:  newHistoryResponses(page.Items),
			Cursor: page.Cursor,
		})
	}
}

// PartnerSubscriptionCancel schedules the end of the caller's subscription.
func PartnerSubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		companyID, err := partnercontext.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), subsvc.CancelInput{
			CompanyID: companyID,
			Role:      middleware.RoleFromContext(r.Context()),
			Reason:    payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                   sub.ID,
		Tier:                 string(sub.Tier),
		BillingCycle:         string(sub.BillingCycle),
		Status:               string(sub.Status),
		StripeSubscriptionID: sub.StripeSubscriptionID,
		StripePriceID:        sub.StripePriceID,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CancelAt:             sub.CancelAt,
		EndedAt:              sub.EndedAt,
	}
}

func newHistoryResponses(entries []models.SubscriptionHistory) []historyEntryResponse {
	out := make([]historyEntryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyEntryResponse{
			ID:             h.ID,
			Action:         string(h.Action),
			PreviousTier:   stringOf(h.PreviousTier),
			NewTier:        stringOf(h.NewTier),
			PreviousStatus: stringOf(h.PreviousStatus),
			NewStatus:      stringOf(h.NewStatus),
			PreviousCycle:  stringOf(h.PreviousCycle),
			NewCycle:       stringOf(h.NewCycle),
			Reason:         h.Reason,
			CreatedAt:      h.CreatedAt,
		})
	}
	return out
}

func stringOf[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
