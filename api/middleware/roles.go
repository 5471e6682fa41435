package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/afm-storefront/api/responses"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

// RequireRole admits callers whose token carries one of the allowed roles.
// It must run after Auth; a request without an identity is a 401, a wrong
// role a 403.
func RequireRole(logg *logger.Logger, allowed ...enums.CustomerRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := enums.CustomerRole(RoleFromContext(r.Context()))
			switch {
			case role == "":
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			case !slices.Contains(allowed, role):
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").
					WithDetails(map[string]any{"role": role, "allowed": allowed}))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
