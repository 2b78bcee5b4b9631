package stores

// migrations is the ordered schema history. Statements are kept portable
// between PostgreSQL and SQLite: unix-second BIGINT timestamps, TEXT ids,
// and partial unique indexes for the one-active-row invariants.
var migrations = []struct {
	version    int
	statements []string
}{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id                TEXT PRIMARY KEY,
    identifier        TEXT NOT NULL UNIQUE,
    password_hash     TEXT NOT NULL,
    role              TEXT NOT NULL DEFAULT 'user',
    status            TEXT NOT NULL DEFAULT 'active',
    suspended_until   BIGINT,
    status_reason     TEXT NOT NULL DEFAULT '',
    created_at        BIGINT NOT NULL,
    updated_at        BIGINT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS refresh_sessions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    device_id     TEXT NOT NULL,
    lookup_key    TEXT NOT NULL,
    secret_hash   TEXT NOT NULL,
    ip_address    TEXT NOT NULL DEFAULT '',
    user_agent    TEXT NOT NULL DEFAULT '',
    created_at    BIGINT NOT NULL,
    last_used_at  BIGINT NOT NULL,
    expires_at    BIGINT NOT NULL,
    is_revoked    BOOLEAN NOT NULL DEFAULT FALSE,
    revoked_at    BIGINT,
    replaced_by   TEXT
)`,
			`CREATE INDEX IF NOT EXISTS idx_refresh_sessions_lookup ON refresh_sessions(lookup_key)`,
			`CREATE INDEX IF NOT EXISTS idx_refresh_sessions_user ON refresh_sessions(user_id, device_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_refresh_sessions_active_device
    ON refresh_sessions(user_id, device_id)
    WHERE is_revoked = FALSE AND replaced_by IS NULL`,
			`CREATE TABLE IF NOT EXISTS password_reset_tokens (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    secret_hash  TEXT NOT NULL UNIQUE,
    created_at   BIGINT NOT NULL,
    expires_at   BIGINT NOT NULL,
    used         BOOLEAN NOT NULL DEFAULT FALSE,
    used_at      BIGINT,
    ip_address   TEXT NOT NULL DEFAULT '',
    user_agent   TEXT NOT NULL DEFAULT ''
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_password_reset_tokens_unused
    ON password_reset_tokens(user_id)
    WHERE used = FALSE`,
			`CREATE TABLE IF NOT EXISTS audit_log (
    id          TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    user_id     TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL DEFAULT 'info',
    success     BOOLEAN NOT NULL,
    ip_address  TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '{}',
    created_at  BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_event ON audit_log(event_type, created_at)`,
		},
	},
}
