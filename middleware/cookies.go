package middleware

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
)

// SetSessionCookies delivers a token pair as HttpOnly, SameSite=Strict
// cookies.
func SetSessionCookies(w http.ResponseWriter, cfg authcore.SessionConfig, pair authcore.TokenPair) {
	http.SetCookie(w, sessionCookie(cfg, cfg.AccessCookieName, pair.AccessToken, pair.AccessExpiresAt, true))
	http.SetCookie(w, sessionCookie(cfg, cfg.RefreshCookieName, pair.RefreshToken, pair.RefreshExpiresAt, true))
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, cfg authcore.SessionConfig) {
	for _, name := range []string{cfg.AccessCookieName, cfg.RefreshCookieName} {
		c := sessionCookie(cfg, name, "", time.Unix(0, 0), true)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// SetCSRFCookie stores the CSRF token in a cookie readable by scripts so the
// client can echo it in the CSRF header.
func SetCSRFCookie(w http.ResponseWriter, cfg authcore.SessionConfig, csrfCfg authcore.CSRFConfig, token string, expiresAt time.Time) {
	http.SetCookie(w, sessionCookie(cfg, csrfCfg.CookieName, token, expiresAt, false))
}

// RefreshTokenFromRequest reads the refresh secret from its cookie.
func RefreshTokenFromRequest(r *http.Request, cfg authcore.SessionConfig) string {
	c, err := r.Cookie(cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func sessionCookie(cfg authcore.SessionConfig, name, value string, expires time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.CookiePath,
		Domain:   cfg.CookieDomain,
		Expires:  expires,
		Secure:   cfg.CookieSecure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	}
}
