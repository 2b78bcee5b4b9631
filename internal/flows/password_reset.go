package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
)

// ResetReason is the internal classification of a reset validation failure.
type ResetReason string

const (
	ResetReasonNone         ResetReason = ""
	ResetReasonSignature    ResetReason = "signature"
	ResetReasonExpired      ResetReason = "expired"
	ResetReasonNotFound     ResetReason = "not_found"
	ResetReasonUserMismatch ResetReason = "user_mismatch"
	ResetReasonAlreadyUsed  ResetReason = "already_used"
)

// ErrResetConsumed is returned by PasswordResetDeps.ConsumeReset when the
// token was marked used by a concurrent consumer.
var ErrResetConsumed = errors.New("reset token consumed concurrently")

// EnvelopeCodec signs and verifies reset envelopes.
type EnvelopeCodec interface {
	CreateEnvelope(typ, uid, secret, nonce string, ttl time.Duration) (string, time.Time, error)
	ParseEnvelope(tokenStr, typ string) (*jwt.EnvelopeClaims, error)
}

// ResetTokenStore is the persistence surface for reset tokens.
type ResetTokenStore interface {
	Replace(ctx context.Context, tok *stores.ResetToken) error
	GetByHash(ctx context.Context, secretHash string) (*stores.ResetToken, error)
}

// PasswordResetDeps captures password reset flow dependencies.
type PasswordResetDeps struct {
	Now      func() time.Time
	TokenTTL time.Duration
	Pepper   []byte

	NewSecret  func() (string, error)
	NewTokenID func() string
	Codec      EnvelopeCodec
	Tokens     ResetTokenStore

	// CheckAccount rejects accounts that may not change their credential.
	CheckAccount func(ctx context.Context, userID string) error
	HashPassword func(string) (string, error)
	// ConsumeReset atomically marks tok used, stores newHash, revokes every
	// session of the owner and appends the audit row. It returns the number
	// of revoked sessions, or ErrResetConsumed when it lost the race.
	ConsumeReset func(ctx context.Context, tok *stores.ResetToken, newHash string, now time.Time) (int64, error)
}

// ResetRequestResult is the envelope to deliver to the account owner.
type ResetRequestResult struct {
	Envelope  string
	ExpiresAt time.Time
	TokenID   string
}

// ResetConfirmResult reports either success or the failure classification.
type ResetConfirmResult struct {
	Reason          ResetReason
	Err             error
	UserID          string
	TokenID         string
	SessionsRevoked int64
}

// RunRequestPasswordReset issues a new reset envelope for userID. Prior
// unused tokens of the user stop validating.
func RunRequestPasswordReset(ctx context.Context, userID, ip, userAgent string, deps PasswordResetDeps) (ResetRequestResult, error) {
	secret, err := deps.NewSecret()
	if err != nil {
		return ResetRequestResult{}, err
	}

	envelope, exp, err := deps.Codec.CreateEnvelope(jwt.TypeReset, userID, secret, "", deps.TokenTTL)
	if err != nil {
		return ResetRequestResult{}, err
	}

	now := deps.Now()
	tok := &stores.ResetToken{
		ID:         deps.NewTokenID(),
		UserID:     userID,
		SecretHash: internal.HashSecret(deps.Pepper, secret),
		CreatedAt:  now.Unix(),
		ExpiresAt:  exp.Unix(),
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := deps.Tokens.Replace(ctx, tok); err != nil {
		return ResetRequestResult{}, err
	}

	return ResetRequestResult{Envelope: envelope, ExpiresAt: exp, TokenID: tok.ID}, nil
}

// RunValidatePasswordReset checks signature and expiry first, then the
// stored token. A non-empty reason means the envelope is rejected; a nil
// token with an empty reason means the store failed.
func RunValidatePasswordReset(ctx context.Context, envelope string, deps PasswordResetDeps) (*stores.ResetToken, ResetReason, error) {
	claims, err := deps.Codec.ParseEnvelope(envelope, jwt.TypeReset)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ResetReasonExpired, err
		}
		return nil, ResetReasonSignature, err
	}
	if err := internal.CheckOpaqueSecret(claims.Secret); err != nil {
		return nil, ResetReasonSignature, err
	}

	tok, err := deps.Tokens.GetByHash(ctx, internal.HashSecret(deps.Pepper, claims.Secret))
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ResetReasonNotFound, err
		}
		return nil, ResetReasonNone, err
	}
	if tok.UserID != claims.UID {
		return tok, ResetReasonUserMismatch, errors.New("reset token owner differs from envelope subject")
	}
	if tok.Used {
		return tok, ResetReasonAlreadyUsed, errors.New("reset token already used")
	}
	if tok.ExpiresAt <= deps.Now().Unix() {
		return tok, ResetReasonExpired, errors.New("reset token expired")
	}
	return tok, ResetReasonNone, nil
}

// RunConfirmPasswordReset validates envelope and consumes it with
// newPassword. Ownership is proven before the account status is consulted.
func RunConfirmPasswordReset(ctx context.Context, envelope, newPassword string, deps PasswordResetDeps) ResetConfirmResult {
	tok, reason, err := RunValidatePasswordReset(ctx, envelope, deps)
	if reason != ResetReasonNone || err != nil {
		res := ResetConfirmResult{Reason: reason, Err: err}
		if tok != nil {
			res.UserID = tok.UserID
			res.TokenID = tok.ID
		}
		return res
	}

	res := ResetConfirmResult{UserID: tok.UserID, TokenID: tok.ID}
	if deps.CheckAccount != nil {
		if err := deps.CheckAccount(ctx, tok.UserID); err != nil {
			res.Err = err
			return res
		}
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		res.Err = err
		return res
	}

	revoked, err := deps.ConsumeReset(ctx, tok, hash, deps.Now())
	if err != nil {
		if errors.Is(err, ErrResetConsumed) {
			res.Reason = ResetReasonAlreadyUsed
		}
		res.Err = err
		return res
	}
	res.SessionsRevoked = revoked
	return res
}
