// Package limiters provides account lockout records on top of Redis.
//
// A lockout is a single key lo:<account> holding a JSON record
// {lockedUntil, lockedAt, reason} whose TTL equals the lock duration. It is
// created with SET NX so exactly one caller observes the moment of lockout.
// Redis failures fall back to a process-local map; the fallback is best
// effort and resets on restart.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Count attempts; internal/rate does, and the engine decides when to lock.
package limiters
