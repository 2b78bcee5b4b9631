package stores

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// AuditRecord is one append-only row of audit_log.
type AuditRecord struct {
	ID        string `db:"id"`
	EventType string `db:"event_type"`
	UserID    string `db:"user_id"`
	Severity  string `db:"severity"`
	Success   bool   `db:"success"`
	IPAddress string `db:"ip_address"`
	Reason    string `db:"reason"`
	Details   string `db:"details"`
	CreatedAt int64  `db:"created_at"`
}

const auditColumns = `id, event_type, user_id, severity, success, ip_address, reason, details, created_at`

// AuditStore appends and reads audit rows.
type AuditStore struct {
	db *sqlx.DB
}

// NewAuditStore returns an AuditStore over db.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Insert appends rec. q may be a transaction so the entry commits or rolls
// back with the change it describes.
func (s *AuditStore) Insert(ctx context.Context, q sqlx.ExtContext, rec *AuditRecord) error {
	if q == nil {
		q = s.db
	}
	if rec.Details == "" {
		rec.Details = "{}"
	}
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.EventType, rec.UserID, rec.Severity, rec.Success,
		rec.IPAddress, rec.Reason, rec.Details, rec.CreatedAt,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ListByUser returns the newest entries for userID first.
func (s *AuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]AuditRecord, error) {
	return s.list(ctx, `WHERE user_id = ?`, userID, limit)
}

// ListByEvent returns the newest entries of one event type first.
func (s *AuditStore) ListByEvent(ctx context.Context, eventType string, limit int) ([]AuditRecord, error) {
	return s.list(ctx, `WHERE event_type = ?`, eventType, limit)
}

func (s *AuditStore) list(ctx context.Context, where, arg string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []AuditRecord
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT `+auditColumns+` FROM audit_log `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ?`), arg, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
