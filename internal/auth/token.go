package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns 32 random bytes, base64url encoded without padding.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
