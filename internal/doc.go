// Package internal contains helper utilities that are private to authcore:
// opaque secret generation, lookup-key and verification-hash derivation, and
// device identifier fallback.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cleanup: periodic purge of expired sessions and reset tokens
//   - flows: flow orchestrators for refresh rotation and password reset
//   - limiters: account lockout records
//   - logging: zap logger construction
//   - rate: counter windows with exponential backoff, Redis and in-memory
//   - stores: relational persistence (users, reset tokens, audit log)
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
