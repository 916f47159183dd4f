// Package testutil holds helpers shared by package tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"screen-service/internal/auth"
)

// GenerateTestPEMKeys generates an RSA key pair and returns it as PEM strings
func GenerateTestPEMKeys(t testing.TB) (string, string) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test keys: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return string(privPEM), string(pubPEM)
}

// NewTokenService returns a token service with a fresh key pair and the
// default lifetimes.
func NewTokenService(t testing.TB) *auth.TokenService {
	t.Helper()
	privPEM, pubPEM := GenerateTestPEMKeys(t)
	km, err := auth.NewKeyManager(privPEM, pubPEM)
	if err != nil {
		t.Fatalf("failed to create key manager: %v", err)
	}
	return auth.NewTokenService(km, "screen-service", "screen-devices", auth.TokenTTLs{
		DeviceAccess:   24 * time.Hour,
		DeviceRefresh:  30 * 24 * time.Hour,
		InstanceAccess: 365 * 24 * time.Hour,
	})
}
