package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventLoginRateLimited        = "login_rate_limited"
	auditEventAccountLocked           = "account_locked"
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshInvalid          = "refresh_invalid"
	auditEventRefreshRateLimited      = "refresh_rate_limited"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventLogoutSession           = "logout_session"
	auditEventLogoutDevice            = "logout_device"
	auditEventLogoutAll               = "logout_all"
	auditEventPasswordResetRequest    = "password_reset_request"
	auditEventPasswordResetConfirm    = "password_reset_confirm"
	auditEventPasswordResetRejected   = "password_reset_rejected"
	auditEventPasswordResetReplay     = "password_reset_replay"
	auditEventRateLimitTriggered      = "rate_limit_triggered"
	auditEventCSRFRejected            = "csrf_rejected"
	auditEventAuthenticateRejected    = "authenticate_rejected"
	auditEventSuspensionLifted        = "suspension_lifted"
	auditEventAccountStatusChange     = "account_status_change"
	auditEventSessionRevokedForStatus = "session_revoked_account_status"
	auditEventAccountCreationSuccess  = "account_creation_success"
	auditEventAccountCreationFailure  = "account_creation_failure"
)

// AuditErrorCode is the stable, non-sensitive failure code recorded with an
// audit event.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrCaptchaRequired    AuditErrorCode = "captcha_required"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRefreshDenied      AuditErrorCode = "refresh_denied"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrResetInvalid       AuditErrorCode = "reset_invalid"
	auditErrResetUsed          AuditErrorCode = "reset_already_used"
	auditErrCSRFInvalid        AuditErrorCode = "csrf_invalid"
	auditErrAccountBanned      AuditErrorCode = "account_banned"
	auditErrAccountSuspended   AuditErrorCode = "account_suspended"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func auditSeverity(eventType string, success bool) AuditSeverity {
	switch eventType {
	case auditEventRefreshReuseDetected, auditEventAccountLocked:
		return SeverityCritical
	case auditEventPasswordResetReplay, auditEventRateLimitTriggered, auditEventCSRFRejected,
		auditEventSessionRevokedForStatus:
		return SeverityWarning
	}
	if !success {
		return SeverityWarning
	}
	return SeverityInfo
}

func (e *Engine) newAuditEvent(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) AuditEvent {
	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Severity:  auditSeverity(eventType, success),
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	return event
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, e.newAuditEvent(ctx, eventType, success, userID, sessionID, err, metadataBuilder))
}

// emitCritical writes the event to audit_log before returning and then
// hands it to the dispatcher for the remaining sinks. Breach and lockout
// entries must not be lost to a full buffer.
func (e *Engine) emitCritical(
	ctx context.Context,
	eventType string,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil {
		return
	}
	event := e.newAuditEvent(ctx, eventType, false, userID, sessionID, err, metadataBuilder)
	event.Severity = SeverityCritical

	if insertErr := e.auditStore.Insert(ctx, nil, auditRecord(event)); insertErr != nil {
		e.logger.Error("critical audit insert failed",
			zap.String("event_type", eventType),
			zap.String("user_id", userID),
			zap.Error(insertErr),
		)
	} else {
		event.Persisted = true
	}
	if e.audit != nil {
		e.audit.Emit(ctx, event)
	}
}

func (e *Engine) emitRateLimit(ctx context.Context, action, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"action": action,
			"scope":  scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrCaptchaRequired):
		return auditErrCaptchaRequired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrRefreshDenied):
		return auditErrRefreshDenied
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		return auditErrInvalidToken
	case errors.Is(err, ErrResetAlreadyUsed):
		return auditErrResetUsed
	case errors.Is(err, ErrResetInvalid):
		return auditErrResetInvalid
	case errors.Is(err, ErrCSRFInvalid):
		return auditErrCSRFInvalid
	case errors.Is(err, ErrAccountBanned):
		return auditErrAccountBanned
	case errors.Is(err, ErrAccountSuspended):
		return auditErrAccountSuspended
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
