package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireRole admits requests whose live identity has one of roles. It must
// run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}
			if _, ok := allowed[id.Role]; !ok {
				WriteError(w, authcore.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
