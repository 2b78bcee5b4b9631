package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		SessionID:  s.ID,
		UserID:     s.UserID,
		DeviceID:   s.DeviceID,
		IP:         s.IPAddress,
		UserAgent:  s.UserAgent,
		CreatedAt:  unixTime(s.CreatedAt),
		LastUsedAt: unixTime(s.LastUsedAt),
		ExpiresAt:  unixTime(s.ExpiresAt),
	}
}

// IssueAccessToken signs a short-lived access token for userID without
// touching the store.
func (e *Engine) IssueAccessToken(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	tok, exp, err := e.jwtManager.CreateAccess(userID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return tok, exp, nil
}

// IssueRefreshToken creates a refresh session for (userID, deviceID) and
// returns its raw secret. Any active session of the same device is revoked
// in the same transaction. The secret is not recoverable afterwards.
func (e *Engine) IssueRefreshToken(ctx context.Context, userID, deviceID string) (string, SessionInfo, error) {
	if userID == "" {
		return "", SessionInfo{}, ErrInvalidInput
	}
	if deviceID == "" {
		deviceID = internal.DeviceIDFromUserAgent(userAgentFromContext(ctx))
	}
	issued, err := internalflows.RunIssueRefresh(ctx, userID, deviceID,
		clientIPFromContext(ctx), userAgentFromContext(ctx), e.flows.Refresh)
	if err != nil {
		return "", SessionInfo{}, storeError(err)
	}
	e.metricInc(MetricSessionCreated)
	return issued.Secret, sessionInfo(issued.Session), nil
}

// VerifyRefresh resolves a raw refresh secret to its active session without
// rotating it. Malformed, unknown, expired, revoked and consumed secrets all
// return ErrRefreshDenied.
func (e *Engine) VerifyRefresh(ctx context.Context, refreshToken string) (*SessionInfo, error) {
	sess, kind, err := internalflows.RunVerifyRefresh(ctx, strings.TrimSpace(refreshToken), e.flows.Refresh)
	switch kind {
	case internalflows.RefreshFailureNone:
		info := sessionInfo(sess)
		return &info, nil
	case internalflows.RefreshFailureStore:
		e.logger.Warn("refresh verify store failure", zap.Error(err))
		return nil, ErrStoreUnavailable
	default:
		return nil, ErrRefreshDenied
	}
}

// Refresh rotates a refresh secret: the presented session is consumed and a
// successor issued with a new access token. Presenting a secret that was
// already rotated is treated as theft: the device's whole session family is
// revoked, a critical audit entry is written and the caller gets the same
// ErrRefreshDenied as for any other invalid secret. Of several concurrent
// rotations of one secret exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.guard(ctx, ActionRefresh, ""); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", "", err, nil)
		}
		return nil, err
	}

	var live *stores.User
	deps := e.flows.Refresh
	deps.CheckAccount = func(ctx context.Context, userID string) error {
		u, err := e.checkLiveStatus(ctx, userID)
		live = u
		return err
	}

	res := internalflows.RunRefresh(ctx, strings.TrimSpace(refreshToken),
		clientIPFromContext(ctx), userAgentFromContext(ctx), deps)

	switch res.Failure {
	case internalflows.RefreshFailureNone:
	case internalflows.RefreshFailureReuse:
		e.onRefreshReuse(ctx, res)
		return nil, ErrRefreshDenied
	case internalflows.RefreshFailureAccountStatus:
		return nil, e.onRefreshAccountStatus(ctx, res)
	case internalflows.RefreshFailureStore:
		e.metricInc(MetricRefreshFailure)
		e.logger.Warn("refresh store failure", zap.Error(res.Err))
		return nil, ErrStoreUnavailable
	case internalflows.RefreshFailureNextSecret, internalflows.RefreshFailureIssueAccess:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh issuance failed", zap.Stringer("kind", res.Failure), zap.Error(res.Err))
		return nil, ErrInternal
	default:
		e.metricInc(MetricRefreshFailure)
		if res.Failure == internalflows.RefreshFailureConflict {
			e.metricInc(MetricRefreshConflict)
		}
		var userID, sessionID string
		if res.Previous != nil {
			userID, sessionID = res.Previous.UserID, res.Previous.ID
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, sessionID, ErrRefreshDenied, func() map[string]string {
			return map[string]string{"reason": res.Failure.String()}
		})
		return nil, ErrRefreshDenied
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Session.UserID, res.Session.ID, nil, func() map[string]string {
		return map[string]string{
			"device_id":   res.Session.DeviceID,
			"replaced_id": res.Previous.ID,
		}
	})

	out := &LoginResult{
		TokenPair: TokenPair{
			AccessToken:      res.AccessToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshToken:     res.RefreshToken,
			RefreshExpiresAt: res.RefreshExpiresAt,
			SessionID:        res.Session.ID,
			DeviceID:         res.Session.DeviceID,
		},
	}
	if live != nil {
		out.User = Identity{
			UserID:     live.ID,
			Identifier: live.Identifier,
			Role:       live.Role,
			Status:     AccountStatus(live.Status),
		}
	}
	return out, nil
}

func (e *Engine) onRefreshReuse(ctx context.Context, res internalflows.RefreshResult) {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)

	scope := "device"
	if e.config.Session.BreachRevokesAllDevices {
		scope = "all_devices"
	}
	e.emitCritical(ctx, auditEventRefreshReuseDetected, res.Previous.UserID, res.Previous.ID, ErrRefreshDenied, func() map[string]string {
		m := map[string]string{
			"device_id":        res.Previous.DeviceID,
			"revoke_scope":     scope,
			"sessions_revoked": strconv.FormatInt(res.Revoked, 10),
		}
		if res.Err != nil {
			m["cause"] = res.Err.Error()
		}
		return m
	})
}

// onRefreshAccountStatus maps a live status failure. A banned owner also
// loses the presented session so the secret cannot be retried after an
// unban.
func (e *Engine) onRefreshAccountStatus(ctx context.Context, res internalflows.RefreshResult) error {
	e.metricInc(MetricRefreshFailure)
	err := res.Err
	switch {
	case errors.Is(err, ErrAccountBanned):
		if revokeErr := e.sessions.Revoke(ctx, res.Previous.ID, e.now()); revokeErr != nil {
			e.logger.Warn("revoke session of banned account failed", zap.Error(revokeErr))
		}
		e.emitAudit(ctx, auditEventSessionRevokedForStatus, false, res.Previous.UserID, res.Previous.ID, err, nil)
		return err
	case errors.Is(err, ErrForbidden):
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.Previous.UserID, res.Previous.ID, err, nil)
		return err
	case errors.Is(err, ErrUserNotFound):
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.Previous.UserID, res.Previous.ID, err, nil)
		return ErrRefreshDenied
	default:
		return ErrStoreUnavailable
	}
}

// revokeBreachFamily revokes the session family of a reused secret: every
// session of its device, or of the user when BreachRevokesAllDevices is set.
func (e *Engine) revokeBreachFamily(ctx context.Context, sess *session.Session, now time.Time) (int64, error) {
	if e.config.Session.BreachRevokesAllDevices {
		return e.sessions.RevokeUser(ctx, nil, sess.UserID, now)
	}
	return e.sessions.RevokeDevice(ctx, sess.UserID, sess.DeviceID, now)
}

// Logout revokes the session of refreshToken. Unknown or already dead
// secrets are accepted silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if internal.CheckOpaqueSecret(refreshToken) != nil {
		return nil
	}
	sess, err := e.sessions.GetByLookupKey(ctx, internal.LookupKey(refreshToken))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}
	if !internal.EqualHash(internal.HashSecret(e.pepper, refreshToken), sess.SecretHash) {
		return nil
	}
	if err := e.sessions.Revoke(ctx, sess.ID, e.now()); err != nil {
		return ErrStoreUnavailable
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.UserID, sess.ID, nil, func() map[string]string {
		return map[string]string{"device_id": sess.DeviceID}
	})
	return nil
}

// LogoutDevice revokes every session of userID on deviceID.
func (e *Engine) LogoutDevice(ctx context.Context, userID, deviceID string) error {
	if userID == "" || deviceID == "" {
		return ErrInvalidInput
	}
	n, err := e.sessions.RevokeDevice(ctx, userID, deviceID, e.now())
	if err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricLogoutDevice)
	e.emitAudit(ctx, auditEventLogoutDevice, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"device_id":        deviceID,
			"sessions_revoked": strconv.FormatInt(n, 10),
		}
	})
	return nil
}

// LogoutAll revokes every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	n, err := e.sessions.RevokeUser(ctx, nil, userID, e.now())
	if err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(n, 10)}
	})
	return nil
}

// ListSessions returns the active sessions of userID, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	rows, err := e.sessions.ListActive(ctx, userID, e.now())
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	out := make([]SessionInfo, 0, len(rows))
	for i := range rows {
		out = append(out, sessionInfo(&rows[i]))
	}
	return out, nil
}
