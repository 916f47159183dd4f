package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const deviceSecretBytes = 32

// GenerateDeviceSecret returns a random URL-safe secret.
func GenerateDeviceSecret() (string, error) {
	b := make([]byte, deviceSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate device secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashDeviceSecret bcrypt-hashes a secret. cost outside bcrypt's range falls
// back to bcrypt.DefaultCost.
func HashDeviceSecret(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash device secret: %w", err)
	}
	return string(hash), nil
}

// CheckDeviceSecret reports whether secret matches hash.
func CheckDeviceSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
