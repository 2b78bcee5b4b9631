// Package authcore is the identity and session security core of a service:
// it issues and rotates credentials, resets passwords, throttles abuse and
// decides whether a presented access token still belongs to an account in
// good standing.
//
// The public surface is [Engine], built once through [Builder] and safe for
// concurrent use. Persistent state (users, refresh sessions, reset tokens,
// audit rows) lives in SQL behind internal/stores and session; attempt
// counters and lockouts live in Redis and fall back to process memory when
// Redis is unreachable.
//
// # Credentials
//
// Access tokens are 15-minute JWTs. Refresh secrets are opaque, stored only
// as a peppered hash, valid for seven days and rotated on every use.
// Presenting a consumed secret revokes the device's session family.
//
// # Account status
//
// Role and status are read from the live record on every [Engine.Authenticate]
// call. Banned accounts are refused, suspended accounts are refused until
// their suspension ends, and a lapsed suspension is cleared on the next
// access.
//
// # What this package must NOT do
//
//   - Expose Redis clients, SQL stores or raw secrets in its public API.
//   - Tell callers why a credential was rejected beyond the public message.
//   - Send mail. Reset delivery goes through a caller-supplied [Notifier].
package authcore
