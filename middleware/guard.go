package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
)

// CredentialSource records where the access token of a request came from.
type CredentialSource string

const (
	SourceCookie CredentialSource = "cookie"
	SourceHeader CredentialSource = "header"
)

type identityContextKey struct{}
type sourceContextKey struct{}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok && id != nil
}

// CredentialSourceFromContext returns how the request was authenticated.
func CredentialSourceFromContext(ctx context.Context) (CredentialSource, bool) {
	src, ok := ctx.Value(sourceContextKey{}).(CredentialSource)
	return src, ok
}

// ClientInfo attaches the caller's IP and User-Agent to the request context
// so the Engine can key rate limits and record sessions.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), clientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate resolves the access token from the access cookie, falling
// back to an Authorization bearer header, and loads the live identity.
// Requests without a valid token are rejected.
func Authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady)
				return
			}

			token, src, ok := accessToken(r, engine.SessionConfig().AccessCookieName)
			if !ok {
				WriteError(w, authcore.ErrTokenInvalid)
				return
			}

			id, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			ctx = context.WithValue(ctx, sourceContextKey{}, src)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request, cookieName string) (string, CredentialSource, bool) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, SourceCookie, true
		}
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, SourceHeader, true
	}
	return "", "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusCode maps an Engine error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authcore.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrDenied):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the client-safe message of err with its status. Rate
// limit and lockout errors carry a Retry-After header.
func WriteError(w http.ResponseWriter, err error) {
	var rl *authcore.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(rl.RetryAfter.Seconds()))
	}
	var locked *authcore.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", retryAfterSeconds(time.Until(locked.Until).Seconds()))
	}
	http.Error(w, authcore.PublicMessage(err), StatusCode(err))
}

func retryAfterSeconds(s float64) string {
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(int(math.Ceil(s)))
}
