// Package session provides relational persistence of refresh sessions and
// their rotation chains.
//
// # Rotation chain
//
// Every successful refresh marks the presented session consumed (replaced_by
// points at the successor) and inserts the successor in the same
// transaction. A consumed session is never reactivated, so presenting it
// again is detectable as reuse. At most one active session exists per
// (user, device); a partial unique index backs that rule.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT
// interpret tokens, hash secrets, or decide what a reuse means; the Engine
// does.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
