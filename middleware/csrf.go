package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
)

// CSRF enforces the double-submit check on mutating requests that were
// authenticated by cookie. Bearer-authenticated and read-only requests pass
// through. It must run after Authenticate.
func CSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	cfg := engine.CSRFConfig()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !csrf.IsMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if src, _ := CredentialSourceFromContext(r.Context()); src != SourceCookie {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}

			header := r.Header.Get(cfg.HeaderName)
			var cookie string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				cookie = c.Value
			}

			switch {
			case !csrf.MatchDoubleSubmit(header, cookie):
				engine.RecordCSRFRejection(r.Context(), id.UserID, "mismatch")
			case !engine.VerifyCSRFToken(header, id.UserID):
				engine.RecordCSRFRejection(r.Context(), id.UserID, "invalid")
			default:
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, authcore.ErrCSRFInvalid)
		})
	}
}
