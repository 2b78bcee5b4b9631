package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ResetToken is a persisted password reset grant. Only the verification
// hash of its secret is stored.
type ResetToken struct {
	ID         string        `db:"id"`
	UserID     string        `db:"user_id"`
	SecretHash string        `db:"secret_hash"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  int64         `db:"expires_at"`
	Used       bool          `db:"used"`
	UsedAt     sql.NullInt64 `db:"used_at"`
	IPAddress  string        `db:"ip_address"`
	UserAgent  string        `db:"user_agent"`
}

const resetColumns = `id, user_id, secret_hash, created_at, expires_at, used, used_at, ip_address, user_agent`

// PasswordResetStore persists reset tokens.
type PasswordResetStore struct {
	db *sqlx.DB
}

// NewPasswordResetStore returns a PasswordResetStore over db.
func NewPasswordResetStore(db *sqlx.DB) *PasswordResetStore {
	return &PasswordResetStore{db: db}
}

// Replace deletes every unused token of the user and inserts tok in the same
// transaction, keeping at most one unused token per user.
func (s *PasswordResetStore) Replace(ctx context.Context, tok *ResetToken) error {
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM password_reset_tokens WHERE user_id = ? AND used = FALSE`), tok.UserID); err != nil {
			return unavailable(err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO password_reset_tokens (`+resetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			tok.ID, tok.UserID, tok.SecretHash, tok.CreatedAt, tok.ExpiresAt,
			false, nil, tok.IPAddress, tok.UserAgent,
		); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

// GetByHash finds a token by its verification hash.
func (s *PasswordResetStore) GetByHash(ctx context.Context, secretHash string) (*ResetToken, error) {
	tok := &ResetToken{}
	err := s.db.GetContext(ctx, tok, s.db.Rebind(`
		SELECT `+resetColumns+` FROM password_reset_tokens WHERE secret_hash = ?`), secretHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return tok, nil
}

// MarkUsed flips used only if the token is still unused. It reports whether
// this call won; a false result means another consumer got there first.
func (s *PasswordResetStore) MarkUsed(ctx context.Context, q sqlx.ExtContext, id string, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE password_reset_tokens SET used = TRUE, used_at = ?
		WHERE id = ? AND used = FALSE`), now.Unix(), id)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// CountUnused returns the number of unused tokens held by userID.
func (s *PasswordResetStore) CountUnused(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM password_reset_tokens WHERE user_id = ? AND used = FALSE`), userID); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// PurgeExpired deletes tokens that expired before cutoff, used or not.
func (s *PasswordResetStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM password_reset_tokens WHERE expires_at < ?`), cutoff.Unix())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}
