package utils

import "time"

var revokedTokens = newTTLSet("jwt:blacklist:")

// BlacklistToken revokes token until its natural expiry.
func BlacklistToken(token string, expiresAt time.Time) {
	revokedTokens.add(token, time.Until(expiresAt))
}

// IsTokenBlacklisted reports whether token was revoked by logout.
func IsTokenBlacklisted(token string) bool {
	return revokedTokens.has(token)
}
