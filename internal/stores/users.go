package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Account statuses persisted in users.status.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusBanned    = "banned"
)

// ErrDuplicateIdentifier is returned by Create when the identifier is taken.
var ErrDuplicateIdentifier = errors.New("identifier already registered")

// User is the subset of the account row the identity core depends on.
type User struct {
	ID             string        `db:"id"`
	Identifier     string        `db:"identifier"`
	PasswordHash   string        `db:"password_hash"`
	Role           string        `db:"role"`
	Status         string        `db:"status"`
	SuspendedUntil sql.NullInt64 `db:"suspended_until"`
	StatusReason   string        `db:"status_reason"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

const userColumns = `id, identifier, password_hash, role, status, suspended_until, status_reason, created_at, updated_at`

// UserStore reads and updates account rows.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore returns a UserStore over db.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a new account.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	if _, err := s.GetByIdentifier(ctx, u.Identifier); err == nil {
		return ErrDuplicateIdentifier
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Identifier, u.PasswordHash, u.Role, u.Status,
		u.SuspendedUntil, u.StatusReason, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetByID loads a user by primary key.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByIdentifier loads a user by login identifier.
func (s *UserStore) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE identifier = ?`, identifier)
}

func (s *UserStore) getOne(ctx context.Context, query string, arg string) (*User, error) {
	u := &User{}
	if err := s.db.GetContext(ctx, u, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return u, nil
}

// UpdatePasswordHash replaces the stored credential hash. q may be the pool
// or a transaction.
func (s *UserStore) UpdatePasswordHash(ctx context.Context, q sqlx.ExtContext, userID, hash string, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		hash, now.Unix(), userID,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus writes the moderation status. until is ignored unless status is
// suspended.
func (s *UserStore) SetStatus(ctx context.Context, userID, status string, until time.Time, reason string, now time.Time) error {
	var suspendedUntil sql.NullInt64
	if status == StatusSuspended && !until.IsZero() {
		suspendedUntil = sql.NullInt64{Int64: until.Unix(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users
		SET status = ?, suspended_until = ?, status_reason = ?, updated_at = ?
		WHERE id = ?`),
		status, suspendedUntil, reason, now.Unix(), userID,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LiftExpiredSuspension reactivates the account only if it is still
// suspended with a window that ended at or before now. It reports whether
// this call performed the transition; concurrent callers see false.
func (s *UserStore) LiftExpiredSuspension(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users
		SET status = ?, suspended_until = NULL, status_reason = '', updated_at = ?
		WHERE id = ? AND status = ? AND suspended_until IS NOT NULL AND suspended_until <= ?`),
		StatusActive, now.Unix(), userID, StatusSuspended, now.Unix(),
	)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}
