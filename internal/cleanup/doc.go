// Package cleanup periodically purges expired refresh sessions and reset
// tokens. Expiry is always evaluated at read time; purging only reclaims
// storage.
package cleanup
