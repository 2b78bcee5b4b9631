package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"go.uber.org/zap"
)

// Authenticate verifies an access token and returns the live identity of
// its subject. Role and status are read from the account record on every
// call. A suspension whose window has ended is lifted here, once, and the
// request proceeds as active.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}()

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrTokenInvalid
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	u, err := e.checkLiveStatus(ctx, claims.UID)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, ErrUserNotFound) {
			err = ErrTokenInvalid
		}
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrDenied) {
			e.emitAudit(ctx, auditEventAuthenticateRejected, false, claims.UID, "", err, nil)
		}
		return nil, err
	}

	e.metricInc(MetricAuthenticateSuccess)
	return &Identity{
		UserID:     u.ID,
		Identifier: u.Identifier,
		Role:       u.Role,
		Status:     AccountStatus(u.Status),
	}, nil
}

// suspensionLapsed reports whether u is suspended with a window that ended
// at or before now. Suspensions without an end never lapse.
func suspensionLapsed(u *stores.User, now time.Time) bool {
	return u.Status == stores.StatusSuspended &&
		u.SuspendedUntil.Valid &&
		u.SuspendedUntil.Int64 <= now.Unix()
}

// checkLiveStatus loads userID and decides whether it may act right now.
// Banned accounts get ErrAccountBanned, active suspensions a SuspendedError.
// A lapsed suspension is cleared with a conditional write before returning
// the account as active.
func (e *Engine) checkLiveStatus(ctx context.Context, userID string) (*stores.User, error) {
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userLoadError(err)
	}

	now := e.now()
	if suspensionLapsed(u, now) {
		lifted, err := e.users.LiftExpiredSuspension(ctx, u.ID, now)
		if err != nil {
			return nil, ErrStoreUnavailable
		}
		if lifted {
			e.metricInc(MetricSuspensionLifted)
			e.emitAudit(ctx, auditEventSuspensionLifted, true, u.ID, "", nil, func() map[string]string {
				return map[string]string{"suspended_until": unixTime(u.SuspendedUntil.Int64).UTC().Format(time.RFC3339)}
			})
			u.Status = stores.StatusActive
			u.SuspendedUntil.Valid = false
			u.StatusReason = ""
		} else if u, err = e.users.GetByID(ctx, userID); err != nil {
			// Lost the race to another reader or a moderator; judge the fresh row.
			return nil, userLoadError(err)
		}
	}

	if err := e.statusError(u, now); err != nil {
		return u, err
	}
	return u, nil
}

func (e *Engine) statusError(u *stores.User, now time.Time) error {
	switch u.Status {
	case stores.StatusActive:
		return nil
	case stores.StatusBanned:
		e.metricInc(MetricAccountBannedRejected)
		return ErrAccountBanned
	case stores.StatusSuspended:
		if suspensionLapsed(u, now) {
			return nil
		}
		e.metricInc(MetricAccountSuspendedRejected)
		se := &SuspendedError{Reason: u.StatusReason}
		if u.SuspendedUntil.Valid {
			se.Until = unixTime(u.SuspendedUntil.Int64)
		}
		return se
	default:
		e.logger.Warn("unknown account status", zap.String("user_id", u.ID), zap.String("status", u.Status))
		return fmt.Errorf("account status %q: %w", u.Status, ErrForbidden)
	}
}

func userLoadError(err error) error {
	if errors.Is(err, stores.ErrNotFound) {
		return ErrUserNotFound
	}
	return ErrStoreUnavailable
}
