package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
)

// SetAccountStatus is the moderation hook. Banning revokes every refresh
// session of the user. Suspending records the window end in until; a zero
// until suspends without end. Reinstating clears any window.
func (e *Engine) SetAccountStatus(ctx context.Context, userID string, status AccountStatus, until time.Time, reason string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	if !status.valid() {
		return ErrInvalidStatus
	}
	now := e.now()
	if status == StatusSuspended && !until.IsZero() && !until.After(now) {
		return ErrInvalidInput
	}

	err := e.users.SetStatus(ctx, userID, string(status), until, reason, now)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			err = ErrUserNotFound
		} else {
			err = ErrStoreUnavailable
		}
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID, "", err, func() map[string]string {
			return map[string]string{"status": string(status)}
		})
		return err
	}

	var revoked int64
	if status == StatusBanned {
		if revoked, err = e.sessions.RevokeUser(ctx, nil, userID, now); err != nil {
			e.emitAudit(ctx, auditEventAccountStatusChange, false, userID, "", ErrStoreUnavailable, nil)
			return ErrStoreUnavailable
		}
	}

	e.metricInc(MetricAccountStatusChanged)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, userID, "", nil, func() map[string]string {
		m := map[string]string{
			"status": string(status),
			"reason": reason,
		}
		if status == StatusSuspended && !until.IsZero() {
			m["until"] = until.UTC().Format(time.RFC3339)
		}
		if status == StatusBanned {
			m["sessions_revoked"] = strconv.FormatInt(revoked, 10)
		}
		return m
	})
	return nil
}
