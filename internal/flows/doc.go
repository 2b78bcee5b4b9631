// Package flows contains the orchestration behind every credential-bearing
// Engine operation: login, refresh issuance and rotation, and the password
// reset request, validate and confirm steps.
//
// Each flow function accepts a typed dependency struct and returns a result
// that carries either the outcome or a failure classification. Mapping a
// classification to a public error, metric or audit event is left to the
// root package.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package.
//   - Decide what callers are told. Internal reasons stay internal.
package flows
