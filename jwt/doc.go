// Package jwt signs and verifies the stateless credentials of the identity core:
// short-lived access tokens and typed envelopes (password reset links, CSRF
// tokens). Every token carries a "typ" claim and is rejected where a different
// type is expected.
package jwt
