package session

import (
	"database/sql"
	"time"
)

// State is the lifecycle position of a refresh session at a given instant.
type State int

const (
	// StateActive sessions may be rotated.
	StateActive State = iota
	// StateConsumed sessions were rotated once and point at their successor.
	StateConsumed
	// StateRevoked sessions were explicitly invalidated.
	StateRevoked
	// StateExpired sessions outlived expires_at. Expiry is evaluated at read
	// time and is never written.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateConsumed:
		return "consumed"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is one link of a refresh rotation chain. Only the lookup key and
// the verification hash of the secret are stored.
type Session struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	DeviceID   string         `db:"device_id"`
	LookupKey  string         `db:"lookup_key"`
	SecretHash string         `db:"secret_hash"`
	IPAddress  string         `db:"ip_address"`
	UserAgent  string         `db:"user_agent"`
	CreatedAt  int64          `db:"created_at"`
	LastUsedAt int64          `db:"last_used_at"`
	ExpiresAt  int64          `db:"expires_at"`
	IsRevoked  bool           `db:"is_revoked"`
	RevokedAt  sql.NullInt64  `db:"revoked_at"`
	ReplacedBy sql.NullString `db:"replaced_by"`
}

// State reports the lifecycle state at now. Revocation and consumption are
// terminal and take precedence over expiry.
func (s *Session) State(now time.Time) State {
	switch {
	case s.IsRevoked:
		return StateRevoked
	case s.ReplacedBy.Valid:
		return StateConsumed
	case s.ExpiresAt <= now.Unix():
		return StateExpired
	default:
		return StateActive
	}
}
