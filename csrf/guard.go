package csrf

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

// Guard issues and verifies stateless CSRF tokens bound to a user.
type Guard struct {
	tokens *jwt.Manager
	ttl    time.Duration
}

// New returns a Guard signing with tokens. A non-positive ttl selects DefaultTTL.
func New(tokens *jwt.Manager, ttl time.Duration) (*Guard, error) {
	if tokens == nil {
		return nil, errors.New("csrf guard requires a token manager")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{tokens: tokens, ttl: ttl}, nil
}

// Issue returns a signed envelope {uid, nonce, iat, exp} for userID.
func (g *Guard) Issue(userID string) (string, time.Time, error) {
	nonce, err := internal.NewNonce()
	if err != nil {
		return "", time.Time{}, err
	}
	return g.tokens.CreateEnvelope(jwt.TypeCSRF, userID, "", nonce, g.ttl)
}

// Verify reports whether token is a live CSRF token issued to userID. Every
// failure (signature, expiry, type, subject) looks the same to the caller.
func (g *Guard) Verify(token, userID string) bool {
	if token == "" || userID == "" {
		return false
	}
	claims, err := g.tokens.ParseEnvelope(token, jwt.TypeCSRF)
	if err != nil {
		return false
	}
	if claims.Nonce == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claims.UID), []byte(userID)) == 1
}

// MatchDoubleSubmit reports whether the header-presented token equals the
// cookie-held one.
func MatchDoubleSubmit(headerToken, cookieToken string) bool {
	if headerToken == "" || cookieToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) == 1
}

// IsMutating reports whether method can change server state.
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
