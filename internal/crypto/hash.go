package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MatchAPIKey compares a raw key with a stored digest in constant time.
func MatchAPIKey(raw, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(raw)), []byte(digest)) == 1
}
