package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceIDFromUserAgent derives a stable device identifier for clients that
// do not send one. Equal user agents share a device slot.
func DeviceIDFromUserAgent(userAgent string) string {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(strings.ToLower(ua)))
	return "ua-" + hex.EncodeToString(sum[:8])
}
