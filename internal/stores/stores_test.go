package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=busy_timeout(5000)"
	db, err := Open(context.Background(), DriverSQLite, dsn, PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUser(t *testing.T, db *sqlx.DB, identifier string) *User {
	t.Helper()
	now := time.Now().Unix()
	u := &User{
		ID:           uuid.NewString(),
		Identifier:   identifier,
		PasswordHash: "hash",
		Role:         "user",
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, NewUserStore(db).Create(context.Background(), u))
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM schema_versions`))
	assert.Equal(t, len(migrations), n)
}

func TestUserStoreCreateRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, "a@example.com")

	err := NewUserStore(db).Create(context.Background(), &User{
		ID: uuid.NewString(), Identifier: "a@example.com", PasswordHash: "h", Role: "user", Status: StatusActive,
	})
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)

	_, err = NewUserStore(db).GetByIdentifier(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLiftExpiredSuspensionOnlyWhenLapsed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserStore(db)
	u := seedUser(t, db, "s@example.com")
	now := time.Now()

	require.NoError(t, users.SetStatus(ctx, u.ID, StatusSuspended, now.Add(time.Hour), "spam", now))
	lifted, err := users.LiftExpiredSuspension(ctx, u.ID, now)
	require.NoError(t, err)
	assert.False(t, lifted, "active suspension must not be lifted")

	lifted, err = users.LiftExpiredSuspension(ctx, u.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, lifted)

	lifted, err = users.LiftExpiredSuspension(ctx, u.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, lifted, "second lift must be a no-op")

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.SuspendedUntil.Valid)
}

func TestPasswordResetReplaceKeepsOneUnused(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	resets := NewPasswordResetStore(db)
	u := seedUser(t, db, "r@example.com")
	now := time.Now().Unix()

	for i := 0; i < 3; i++ {
		require.NoError(t, resets.Replace(ctx, &ResetToken{
			ID:         uuid.NewString(),
			UserID:     u.ID,
			SecretHash: uuid.NewString(),
			CreatedAt:  now,
			ExpiresAt:  now + 900,
		}))
	}

	n, err := resets.CountUnused(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPasswordResetMarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	resets := NewPasswordResetStore(db)
	u := seedUser(t, db, "m@example.com")
	now := time.Now()

	tok := &ResetToken{ID: uuid.NewString(), UserID: u.ID, SecretHash: "h1", CreatedAt: now.Unix(), ExpiresAt: now.Add(15 * time.Minute).Unix()}
	require.NoError(t, resets.Replace(ctx, tok))

	won, err := resets.MarkUsed(ctx, db, tok.ID, now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = resets.MarkUsed(ctx, db, tok.ID, now)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := resets.GetByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.True(t, got.UsedAt.Valid)
}

func TestAuditInsertRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	audit := NewAuditStore(db)
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		if err := audit.Insert(ctx, tx, &AuditRecord{ID: uuid.NewString(), EventType: "x", UserID: "u1", Success: true, CreatedAt: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := audit.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, audit.Insert(ctx, nil, &AuditRecord{ID: uuid.NewString(), EventType: "x", UserID: "u1", Success: true, CreatedAt: 2}))
	rows, err = audit.ListByEvent(ctx, "x", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "{}", rows[0].Details)
}
