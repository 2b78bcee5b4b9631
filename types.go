package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
)

// AccountStatus is the moderation state of a user account.
type AccountStatus string

const (
	StatusActive    AccountStatus = stores.StatusActive
	StatusSuspended AccountStatus = stores.StatusSuspended
	StatusBanned    AccountStatus = stores.StatusBanned
)

func (s AccountStatus) valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}

// LoginRequest is the input to Engine.Login. An empty DeviceID is derived
// from the User-Agent in the request context.
type LoginRequest struct {
	Identifier   string `validate:"required,max=320"`
	Password     string `validate:"required"`
	DeviceID     string `validate:"max=128"`
	CaptchaToken string `validate:"max=4096"`
}

// Identity is the authenticated principal. Role and Status always come from
// the live account record, never from token claims.
type Identity struct {
	UserID     string
	Identifier string
	Role       string
	Status     AccountStatus
}

// TokenPair carries a fresh access token and refresh secret. The refresh
// secret is returned exactly once and never stored or logged in raw form.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	DeviceID         string
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	TokenPair
	User Identity
}

// SessionInfo is the listable view of an active refresh session.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RateLimitDecision is the combined outcome of the IP and account tracks.
type RateLimitDecision struct {
	Allowed         bool
	Remaining       int
	ResetAt         time.Time
	RetryAfter      time.Duration
	RequiresCaptcha bool
	Locked          bool
	LockedUntil     time.Time
	// Degraded is set when any part of the decision came from the
	// process-local fallback.
	Degraded bool
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	DBAvailable    bool
	DBLatency      time.Duration
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Notifier delivers password reset envelopes. The Engine never sends mail
// itself.
type Notifier interface {
	SendPasswordReset(ctx context.Context, user Identity, envelope string, expiresAt time.Time) error
}

// CaptchaVerifier checks a CAPTCHA response token for a flagged attempt.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}
