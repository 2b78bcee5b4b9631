package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/jmoiron/sqlx"
)

// ErrSessionNotFound is returned when no session matches a lookup.
var ErrSessionNotFound = errors.New("refresh session not found")

// ErrRotateConflict is returned when the session stopped being active
// between read and rotation. Exactly one concurrent rotation wins.
var ErrRotateConflict = errors.New("refresh session no longer active")

// ErrStoreUnavailable is returned for driver failures.
var ErrStoreUnavailable = stores.ErrStoreUnavailable

const sessionColumns = `id, user_id, device_id, lookup_key, secret_hash, ip_address, user_agent,
	created_at, last_used_at, expires_at, is_revoked, revoked_at, replaced_by`

// Store persists refresh sessions in a relational database.
type Store struct {
	db *sqlx.DB
}

// NewStore returns a Store over db. The schema is created by stores.Migrate.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create revokes any active session for the same user and device and inserts
// sess in one transaction.
func (s *Store) Create(ctx context.Context, sess *Session, now time.Time) error {
	return stores.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE refresh_sessions SET is_revoked = TRUE, revoked_at = ?
			WHERE user_id = ? AND device_id = ? AND is_revoked = FALSE AND replaced_by IS NULL`),
			now.Unix(), sess.UserID, sess.DeviceID,
		); err != nil {
			return unavailable(err)
		}
		return insert(ctx, tx, sess)
	})
}

// GetByLookupKey returns the session indexed by key in any state.
func (s *Store) GetByLookupKey(ctx context.Context, key string) (*Session, error) {
	sess := &Session{}
	err := s.db.GetContext(ctx, sess, s.db.Rebind(`
		SELECT `+sessionColumns+` FROM refresh_sessions WHERE lookup_key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, unavailable(err)
	}
	return sess, nil
}

// Rotate consumes current and inserts next as its successor in one
// transaction. The consume is a compare-and-set on "still active at now";
// losing racers get ErrRotateConflict and nothing is written.
func (s *Store) Rotate(ctx context.Context, currentID string, next *Session, now time.Time) error {
	return stores.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE refresh_sessions SET replaced_by = ?, last_used_at = ?
			WHERE id = ? AND is_revoked = FALSE AND replaced_by IS NULL AND expires_at > ?`),
			next.ID, now.Unix(), currentID, now.Unix(),
		)
		if err != nil {
			return unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		if n != 1 {
			return ErrRotateConflict
		}
		return insert(ctx, tx, next)
	})
}

// Revoke invalidates one session. Revoking an already terminal session is a
// no-op.
func (s *Store) Revoke(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE refresh_sessions SET is_revoked = TRUE, revoked_at = ?
		WHERE id = ? AND is_revoked = FALSE`), now.Unix(), id)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeDevice invalidates every session of the (user, device) rotation
// family, consumed links included.
func (s *Store) RevokeDevice(ctx context.Context, userID, deviceID string, now time.Time) (int64, error) {
	return rowsAffected(s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE refresh_sessions SET is_revoked = TRUE, revoked_at = ?
		WHERE user_id = ? AND device_id = ? AND is_revoked = FALSE`), now.Unix(), userID, deviceID))
}

// RevokeUser invalidates every session of userID. q may be a transaction.
func (s *Store) RevokeUser(ctx context.Context, q sqlx.ExtContext, userID string, now time.Time) (int64, error) {
	if q == nil {
		q = s.db
	}
	return rowsAffected(q.ExecContext(ctx, q.Rebind(`
		UPDATE refresh_sessions SET is_revoked = TRUE, revoked_at = ?
		WHERE user_id = ? AND is_revoked = FALSE`), now.Unix(), userID))
}

// ListActive returns the user's active sessions, newest first.
func (s *Store) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	var out []Session
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE user_id = ? AND is_revoked = FALSE AND replaced_by IS NULL AND expires_at > ?
		ORDER BY created_at DESC`), userID, now.Unix())
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// PurgeExpired deletes sessions that expired before cutoff in any state.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM refresh_sessions WHERE expires_at < ?`), cutoff.Unix()))
}

func insert(ctx context.Context, q sqlx.ExtContext, sess *Session) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO refresh_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.UserID, sess.DeviceID, sess.LookupKey, sess.SecretHash,
		sess.IPAddress, sess.UserAgent, sess.CreatedAt, sess.LastUsedAt, sess.ExpiresAt,
		false, nil, nil,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
