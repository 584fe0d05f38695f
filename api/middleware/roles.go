package middleware

import (
	"net/http"

	"github.com/localpros/localpros-backend/api/responses"
	pkgerrors "github.com/localpros/localpros-backend/pkg/errors"
	"github.com/localpros/localpros-backend/pkg/logger"
)

// RequireBillingManager admits owners and admins only.
func RequireBillingManager(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !RoleFromContext(r.Context()).CanManageBilling() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "billing management requires owner or admin role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
