package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	opaqueSecretSize = 32
	nonceSize        = 16
	lookupKeySize    = 16
)

// ErrMalformedSecret is returned when a presented opaque secret does not decode
// to the expected size.
var ErrMalformedSecret = errors.New("malformed secret")

// NewOpaqueSecret returns 32 bytes from crypto/rand encoded as base64url
// without padding. The caller hands the result out once and stores only
// derived values.
func NewOpaqueSecret() (string, error) {
	var secret [opaqueSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// NewNonce returns 16 random bytes as base64url.
func NewNonce() (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(nonce[:]), nil
}

// CheckOpaqueSecret rejects strings that could not have come from NewOpaqueSecret.
func CheckOpaqueSecret(raw string) error {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != opaqueSecretSize {
		return ErrMalformedSecret
	}
	return nil
}

// LookupKey derives the non-secret index used to find a stored record in
// O(1). It is a truncated SHA-256 and is never used for verification.
func LookupKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:lookupKeySize])
}

// HashSecret derives the stored verification hash of an opaque secret.
func HashSecret(pepper []byte, raw string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHash compares two hex hashes in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
