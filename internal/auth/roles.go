package auth

import (
	"net/http"
	"slices"
)

// RequireRole lets through users holding one of roles. Admins always pass.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, found := UserFromContext(r.Context())
			if !found {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !user.IsAdmin() && !slices.Contains(roles, user.Role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
