package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashToken returns the SHA-256 hex digest stored in place of a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
