package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// NewInviteToken returns 32 random bytes as 64 lowercase hex characters.
func NewInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewState returns a short random value for OAuth state round-trips.
func NewState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
