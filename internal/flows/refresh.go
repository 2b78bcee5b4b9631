package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
// Every kind except RefreshFailureNone and RefreshFailureStore surfaces to
// callers as the same denial.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureNotFound
	RefreshFailureMismatch
	RefreshFailureRevoked
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureConflict
	RefreshFailureAccountStatus
	RefreshFailureNextSecret
	RefreshFailureIssueAccess
	RefreshFailureStore
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureMalformed:
		return "malformed"
	case RefreshFailureNotFound:
		return "not_found"
	case RefreshFailureMismatch:
		return "hash_mismatch"
	case RefreshFailureRevoked:
		return "revoked"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureReuse:
		return "reuse"
	case RefreshFailureConflict:
		return "rotate_conflict"
	case RefreshFailureAccountStatus:
		return "account_status"
	case RefreshFailureNextSecret:
		return "next_secret"
	case RefreshFailureIssueAccess:
		return "issue_access"
	default:
		return "store"
	}
}

// RefreshSessionStore is the persistence surface the refresh flows need.
type RefreshSessionStore interface {
	Create(ctx context.Context, sess *session.Session, now time.Time) error
	GetByLookupKey(ctx context.Context, key string) (*session.Session, error)
	Rotate(ctx context.Context, currentID string, next *session.Session, now time.Time) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now        func() time.Time
	SessionTTL time.Duration
	Pepper     []byte

	NewSecret    func() (string, error)
	NewSessionID func() string
	SessionStore RefreshSessionStore

	IssueAccessToken func(userID string) (string, time.Time, error)
	// CheckAccount returns a non-nil error when the live account may not
	// receive new credentials.
	CheckAccount func(ctx context.Context, userID string) error
	// RevokeFamily performs the breach cascade for a reused session and
	// returns the number of sessions it revoked.
	RevokeFamily func(ctx context.Context, sess *session.Session, now time.Time) (int64, error)
}

// IssuedRefresh is a freshly persisted session and its raw secret.
type IssuedRefresh struct {
	Secret  string
	Session *session.Session
}

// RefreshResult carries either the rotated credentials or failure metadata.
type RefreshResult struct {
	Failure          RefreshFailureKind
	Err              error
	Previous         *session.Session
	Session          *session.Session
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	// Revoked is the number of sessions the breach cascade revoked.
	Revoked int64
}

// RunIssueRefresh creates a new active session for (userID, deviceID),
// revoking any previous active session of that device.
func RunIssueRefresh(ctx context.Context, userID, deviceID, ip, userAgent string, deps RefreshDeps) (IssuedRefresh, error) {
	secret, err := deps.NewSecret()
	if err != nil {
		return IssuedRefresh{}, err
	}
	now := deps.Now()
	sess := newSession(deps, userID, deviceID, ip, userAgent, secret, now)
	if err := deps.SessionStore.Create(ctx, sess, now); err != nil {
		return IssuedRefresh{}, err
	}
	return IssuedRefresh{Secret: secret, Session: sess}, nil
}

// RunVerifyRefresh resolves raw to its session and classifies its state.
// The session is returned for every kind except Malformed, NotFound and
// Store so callers can audit against its owner.
func RunVerifyRefresh(ctx context.Context, raw string, deps RefreshDeps) (*session.Session, RefreshFailureKind, error) {
	if err := internal.CheckOpaqueSecret(raw); err != nil {
		return nil, RefreshFailureMalformed, err
	}

	sess, err := deps.SessionStore.GetByLookupKey(ctx, internal.LookupKey(raw))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, RefreshFailureNotFound, err
		}
		return nil, RefreshFailureStore, err
	}
	if !internal.EqualHash(internal.HashSecret(deps.Pepper, raw), sess.SecretHash) {
		return nil, RefreshFailureMismatch, errors.New("refresh secret hash mismatch")
	}

	switch sess.State(deps.Now()) {
	case session.StateActive:
		return sess, RefreshFailureNone, nil
	case session.StateConsumed:
		return sess, RefreshFailureReuse, errors.New("consumed refresh secret presented")
	case session.StateRevoked:
		return sess, RefreshFailureRevoked, errors.New("refresh session revoked")
	default:
		return sess, RefreshFailureExpired, errors.New("refresh session expired")
	}
}

// RunRefresh rotates raw into a successor session and issues new
// credentials. Presenting an already consumed secret runs the breach
// cascade and issues nothing.
func RunRefresh(ctx context.Context, raw, ip, userAgent string, deps RefreshDeps) RefreshResult {
	current, kind, err := RunVerifyRefresh(ctx, raw, deps)
	if kind == RefreshFailureReuse {
		revoked, revokeErr := deps.RevokeFamily(ctx, current, deps.Now())
		if revokeErr != nil {
			err = revokeErr
		}
		return RefreshResult{
			Failure:  RefreshFailureReuse,
			Err:      err,
			Previous: current,
			Revoked:  revoked,
		}
	}
	if kind != RefreshFailureNone {
		return RefreshResult{Failure: kind, Err: err, Previous: current}
	}

	if deps.CheckAccount != nil {
		if err := deps.CheckAccount(ctx, current.UserID); err != nil {
			return RefreshResult{Failure: RefreshFailureAccountStatus, Err: err, Previous: current}
		}
	}

	secret, err := deps.NewSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err, Previous: current}
	}

	// Signed before the rotation commits: nothing after Rotate may fail.
	access, accessExp, err := deps.IssueAccessToken(current.UserID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, Previous: current}
	}

	now := deps.Now()
	next := newSession(deps, current.UserID, current.DeviceID, ip, userAgent, secret, now)
	if err := deps.SessionStore.Rotate(ctx, current.ID, next, now); err != nil {
		if errors.Is(err, session.ErrRotateConflict) {
			return RefreshResult{Failure: RefreshFailureConflict, Err: err, Previous: current}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: err, Previous: current}
	}

	return RefreshResult{
		Failure:          RefreshFailureNone,
		Previous:         current,
		Session:          next,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     secret,
		RefreshExpiresAt: time.Unix(next.ExpiresAt, 0),
	}
}

func newSession(deps RefreshDeps, userID, deviceID, ip, userAgent, secret string, now time.Time) *session.Session {
	return &session.Session{
		ID:         deps.NewSessionID(),
		UserID:     userID,
		DeviceID:   deviceID,
		LookupKey:  internal.LookupKey(secret),
		SecretHash: internal.HashSecret(deps.Pepper, secret),
		IPAddress:  ip,
		UserAgent:  userAgent,
		CreatedAt:  now.Unix(),
		LastUsedAt: now.Unix(),
		ExpiresAt:  now.Add(deps.SessionTTL).Unix(),
	}
}
