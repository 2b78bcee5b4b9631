// Package rate provides windowed attempt counters with exponential backoff
// for security-sensitive authentication workflows.
//
// # Window semantics
//
// A hit past the window end starts a fresh window with one attempt; any
// other hit increments. Attempts beyond MaxAttempts are denied. When the
// counter crosses a further multiple of MaxAttempts the window is extended
// to base*2^(violations-1), capped by MaxWindow. The Redis implementation
// is one Lua script (HGET/HSET/PEXPIRE) so concurrent hits never lose
// updates. Keys have the form rl:<action>:<scope>:<id>.
//
// # Degradation
//
// Redis errors never allow unlimited attempts. The limiter falls back to a
// process-local Memory store with identical rules. That fallback is best
// effort: it is per process and resets on restart.
//
// # What this package must NOT do
//
//   - Implement account lockout (internal/limiters does).
//   - Be imported outside the authcore module.
package rate
