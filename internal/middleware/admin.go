package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, operatorID string) (bool, bool, error)
	HasRole(ctx context.Context, operatorID, role string) (bool, error)
}

// RequireAdmin lets through admins holding role. Super admins hold every
// role; an empty role only requires admin.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operatorID, ok := OperatorIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			isAdmin, isSuper, err := adminStore.IsAdmin(r.Context(), operatorID)
			if err != nil {
				log.Error().Err(err).Str("operator_id", operatorID).Msg("admin lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error", "unable to verify admin")
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "forbidden", "admin privileges required")
				return
			}
			if isSuper || role == "" {
				next.ServeHTTP(w, r)
				return
			}
			hasRole, err := adminStore.HasRole(r.Context(), operatorID, role)
			if err != nil {
				log.Error().Err(err).Str("operator_id", operatorID).Str("role", role).Msg("role lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error", "unable to verify role")
				return
			}
			if !hasRole {
				writeError(w, http.StatusForbidden, "forbidden", "missing required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
