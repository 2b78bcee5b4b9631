package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Error classes. Every error returned by the Engine wraps exactly one of
// them, so callers can map outcomes with errors.Is without knowing the
// specific cause.
var (
	// ErrDenied covers authentication failures whose cause must not be disclosed.
	ErrDenied = errors.New("denied")
	// ErrConflict covers operations that already happened and are safe to report.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited is returned when a rate limit track denies the attempt.
	ErrRateLimited = errors.New("rate limited")
	// ErrLocked is returned while an account lockout is active.
	ErrLocked = errors.New("locked")
	// ErrNotFound is returned for missing resources that callers may learn about.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when identity is known but access is refused.
	ErrForbidden = errors.New("forbidden")
	// ErrInternal covers store, cache and signing failures.
	ErrInternal = errors.New("internal error")
)

var (
	// ErrInvalidCredentials is returned for unknown identifiers and wrong passwords alike.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrDenied)
	// ErrRefreshDenied is the single outcome for invalid, expired, revoked or reused refresh secrets.
	ErrRefreshDenied = fmt.Errorf("refresh denied: %w", ErrDenied)
	// ErrTokenInvalid is returned for access tokens that fail verification.
	ErrTokenInvalid = fmt.Errorf("access token invalid: %w", ErrDenied)
	// ErrTokenExpired is returned for well-signed access tokens past expiry.
	ErrTokenExpired = fmt.Errorf("access token expired: %w", ErrDenied)
	// ErrResetInvalid is the outward result for any reset envelope that does not verify.
	ErrResetInvalid = fmt.Errorf("password reset token invalid: %w", ErrDenied)
	// ErrResetAlreadyUsed is returned when a valid reset envelope was consumed before.
	ErrResetAlreadyUsed = fmt.Errorf("password reset token already used: %w", ErrConflict)
	// ErrCSRFInvalid is returned by the CSRF middleware.
	ErrCSRFInvalid = fmt.Errorf("csrf token invalid: %w", ErrForbidden)
	// ErrCaptchaRequired is returned when a flagged attempt lacks a passing CAPTCHA.
	ErrCaptchaRequired = fmt.Errorf("captcha required: %w", ErrRateLimited)
	// ErrAccountBanned is returned for banned accounts.
	ErrAccountBanned = fmt.Errorf("account banned: %w", ErrForbidden)
	// ErrAccountSuspended is wrapped by SuspendedError.
	ErrAccountSuspended = fmt.Errorf("account suspended: %w", ErrForbidden)
	// ErrAccountLocked is wrapped by LockedError.
	ErrAccountLocked = fmt.Errorf("account locked: %w", ErrLocked)
	// ErrAccountExists is returned by CreateAccount for a taken identifier.
	ErrAccountExists = fmt.Errorf("account already exists: %w", ErrConflict)
	// ErrUserNotFound is returned by moderation and session listing APIs.
	ErrUserNotFound = fmt.Errorf("user not found: %w", ErrNotFound)
	// ErrPasswordPolicy is returned when a new password fails the hashing policy.
	ErrPasswordPolicy = fmt.Errorf("password policy violation: %w", ErrValidation)
	// ErrInvalidStatus is returned by SetAccountStatus for unknown statuses.
	ErrInvalidStatus = fmt.Errorf("invalid account status: %w", ErrValidation)
	// ErrInvalidInput is returned for empty or malformed arguments.
	ErrInvalidInput = fmt.Errorf("invalid input: %w", ErrValidation)
	// ErrStoreUnavailable is returned when the relational store fails.
	ErrStoreUnavailable = fmt.Errorf("store unavailable: %w", ErrInternal)
	// ErrEngineNotReady is returned when a required dependency was not configured.
	ErrEngineNotReady = fmt.Errorf("engine not initialized: %w", ErrInternal)
)

// RateLimitError reports a denied rate limit decision with a retry hint.
type RateLimitError struct {
	Action          string
	RetryAfter      time.Duration
	RequiresCaptcha bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockedError reports an active lockout. Correct credentials do not lift it.
type LockedError struct {
	Until  time.Time
	Reason string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Unwrap returns ErrAccountLocked.
func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// SuspendedError reports an active suspension and when it ends.
type SuspendedError struct {
	Until  time.Time
	Reason string
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("account suspended until %s", e.Until.UTC().Format(time.RFC3339))
}

// Unwrap returns ErrAccountSuspended.
func (e *SuspendedError) Unwrap() error { return ErrAccountSuspended }

// ResetReason is the internal cause of a reset validation failure. It is
// recorded in audit entries and never shown to callers.
type ResetReason string

const (
	ResetReasonSignature    ResetReason = "signature"
	ResetReasonExpired      ResetReason = "expired"
	ResetReasonNotFound     ResetReason = "not_found"
	ResetReasonUserMismatch ResetReason = "user_mismatch"
	ResetReasonAlreadyUsed  ResetReason = "already_used"
)

// ResetError carries the internal reason for a rejected reset envelope.
// errors.Is matches ErrResetAlreadyUsed for already_used and ErrResetInvalid
// for every other reason.
type ResetError struct {
	Reason ResetReason
}

func (e *ResetError) Error() string {
	return "password reset rejected: " + string(e.Reason)
}

// Unwrap returns the public sentinel for the reason.
func (e *ResetError) Unwrap() error {
	if e.Reason == ResetReasonAlreadyUsed {
		return ErrResetAlreadyUsed
	}
	return ErrResetInvalid
}

var classMessages = []struct {
	class error
	msg   string
}{
	{ErrDenied, "authentication failed"},
	{ErrConflict, "request already processed"},
	{ErrRateLimited, "too many attempts, try again later"},
	{ErrLocked, "account temporarily locked"},
	{ErrNotFound, "not found"},
	{ErrValidation, "invalid request"},
	{ErrForbidden, "access denied"},
}

// PublicMessage collapses err into a message safe to return to clients.
// Anything outside the known classes is reported as an internal error.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var reset *ResetError
	if errors.As(err, &reset) && reset.Reason == ResetReasonAlreadyUsed {
		return "password reset link already used"
	}
	for _, c := range classMessages {
		if errors.Is(err, c.class) {
			return c.msg
		}
	}
	return "internal error"
}
