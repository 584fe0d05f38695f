package partnercontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/localpros/localpros-backend/api/middleware"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
)

// ResolveCompanyID returns the company the authenticated partner acts for.
func ResolveCompanyID(r *http.Request) (uuid.UUID, error) {
	companyID := middleware.CompanyIDFromContext(r.Context())
	if companyID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing")
	}
	return companyID, nil
}
