package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrPasswordResetDisabled is returned when PasswordReset.Enabled is false.
var ErrPasswordResetDisabled = fmt.Errorf("password reset disabled: %w", ErrForbidden)

// RequestPasswordReset issues a reset envelope for identifier and hands it to
// the Notifier. Unknown and banned identifiers get the same nil result and
// no token is stored for them. Delivery failures are logged, not returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}
	if e.notifier == nil {
		return ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ErrInvalidInput
	}

	if err := e.guard(ctx, ActionPasswordResetRequest, identifier); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricPasswordResetRateLimited)
		}
		return err
	}
	e.metricInc(MetricPasswordResetRequest)

	u, err := e.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrUserNotFound, nil)
			return nil
		}
		return ErrStoreUnavailable
	}
	if u.Status == stores.StatusBanned {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, u.ID, "", ErrAccountBanned, nil)
		return nil
	}

	res, err := internalflows.RunRequestPasswordReset(ctx, u.ID,
		clientIPFromContext(ctx), userAgentFromContext(ctx), e.flows.PasswordReset)
	if err != nil {
		e.logger.Error("password reset issue failed", zap.String("user_id", u.ID), zap.Error(err))
		return storeError(err)
	}

	identity := Identity{UserID: u.ID, Identifier: u.Identifier, Role: u.Role, Status: AccountStatus(u.Status)}
	if err := e.notifier.SendPasswordReset(ctx, identity, res.Envelope, res.ExpiresAt); err != nil {
		e.logger.Warn("password reset delivery failed", zap.String("user_id", u.ID), zap.Error(err))
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{
			"token_id":   res.TokenID,
			"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		}
	})
	return nil
}

// ValidatePasswordReset checks envelope without consuming it. A rejected
// envelope returns a *ResetError; errors.Is reports ErrResetAlreadyUsed for
// used tokens and ErrResetInvalid for everything else.
func (e *Engine) ValidatePasswordReset(ctx context.Context, envelope string) error {
	tok, reason, err := internalflows.RunValidatePasswordReset(ctx, strings.TrimSpace(envelope), e.flows.PasswordReset)
	if reason != internalflows.ResetReasonNone {
		e.auditResetRejected(ctx, tok, reason, err)
		return &ResetError{Reason: ResetReason(reason)}
	}
	if err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// ConfirmPasswordReset consumes envelope and sets newPassword. The token
// flip, the credential change, the revocation of every refresh session of
// the owner and the audit entry commit together or not at all. A token of
// a since-banned account is rejected with ErrAccountBanned after the secret
// has been verified.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, envelope, newPassword string) error {
	if err := e.guard(ctx, ActionPasswordResetConfirm, ""); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricPasswordResetRateLimited)
		}
		return err
	}

	res := internalflows.RunConfirmPasswordReset(ctx, strings.TrimSpace(envelope), newPassword, e.flows.PasswordReset)
	if res.Reason != internalflows.ResetReasonNone {
		e.metricInc(MetricPasswordResetConfirmFailure)
		var tok *stores.ResetToken
		if res.TokenID != "" {
			tok = &stores.ResetToken{ID: res.TokenID, UserID: res.UserID}
		}
		e.auditResetRejected(ctx, tok, res.Reason, res.Err)
		return &ResetError{Reason: ResetReason(res.Reason)}
	}
	if res.Err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		err := res.Err
		switch {
		case errors.Is(err, ErrForbidden), errors.Is(err, ErrPasswordPolicy):
		case errors.Is(err, ErrUserNotFound):
			err = &ResetError{Reason: ResetReasonNotFound}
		default:
			e.logger.Warn("password reset consume failed", zap.String("user_id", res.UserID), zap.Error(err))
			err = ErrStoreUnavailable
		}
		e.emitAudit(ctx, auditEventPasswordResetRejected, false, res.UserID, "", err, func() map[string]string {
			return map[string]string{"token_id": res.TokenID}
		})
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	return nil
}

func (e *Engine) auditResetRejected(ctx context.Context, tok *stores.ResetToken, reason internalflows.ResetReason, cause error) {
	eventType := auditEventPasswordResetRejected
	err := ErrResetInvalid
	if reason == internalflows.ResetReasonAlreadyUsed {
		e.metricInc(MetricPasswordResetReplay)
		eventType = auditEventPasswordResetReplay
		err = ErrResetAlreadyUsed
	}

	var userID string
	if tok != nil {
		userID = tok.UserID
	}
	e.emitAudit(ctx, eventType, false, userID, "", err, func() map[string]string {
		m := map[string]string{"reason": string(reason)}
		if tok != nil {
			m["token_id"] = tok.ID
		}
		if cause != nil {
			m["cause"] = cause.Error()
		}
		return m
	})
}

// checkResetAccount only refuses banned owners. Suspended accounts may
// still replace a compromised credential.
func (e *Engine) checkResetAccount(ctx context.Context, userID string) error {
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return userLoadError(err)
	}
	if u.Status == stores.StatusBanned {
		e.metricInc(MetricAccountBannedRejected)
		return ErrAccountBanned
	}
	return nil
}

func (e *Engine) consumeReset(ctx context.Context, tok *stores.ResetToken, newHash string, now time.Time) (int64, error) {
	var (
		revoked int64
		event   AuditEvent
	)
	err := stores.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		won, err := e.resetTokens.MarkUsed(ctx, tx, tok.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return internalflows.ErrResetConsumed
		}
		if err := e.users.UpdatePasswordHash(ctx, tx, tok.UserID, newHash, now); err != nil {
			return err
		}
		if revoked, err = e.sessions.RevokeUser(ctx, tx, tok.UserID, now); err != nil {
			return err
		}

		event = e.newAuditEvent(ctx, auditEventPasswordResetConfirm, true, tok.UserID, "", nil, func() map[string]string {
			return map[string]string{
				"token_id":         tok.ID,
				"sessions_revoked": strconv.FormatInt(revoked, 10),
			}
		})
		return e.auditStore.Insert(ctx, tx, auditRecord(event))
	})
	if err != nil {
		return 0, err
	}

	event.Persisted = true
	if e.audit != nil {
		e.audit.Emit(ctx, event)
	}
	return revoked, nil
}
