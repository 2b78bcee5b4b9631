// Package stores provides the relational persistence of the identity core:
// accounts, password reset tokens and the audit log, on PostgreSQL (lib/pq)
// or SQLite (modernc.org/sqlite) through sqlx.
//
// # Design
//
// Queries are written with '?' placeholders and rebound for the driver.
// Timestamps are unix seconds. Single-use transitions (reset consumption,
// suspension lift) are conditional UPDATEs whose RowsAffected decides the
// winner. Methods that must join a caller's transaction accept an
// sqlx.ExtContext.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Store plaintext secrets.
//   - Make authentication decisions; flows in internal/flows do that.
package stores
