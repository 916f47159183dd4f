package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// signingKey is one RSA key pair. A zero retireAt means the key has not been
// rotated out yet.
type signingKey struct {
	kid       string
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	createdAt time.Time
	retireAt  time.Time
}

func (k *signingKey) retired(now time.Time) bool {
	return !k.retireAt.IsZero() && k.retireAt.Before(now)
}

// KeyManager holds the signing key set. Tokens are signed with the current
// key; retired keys keep verifying until their grace period ends so devices
// holding 30-day refresh tokens survive a rotation.
type KeyManager struct {
	mu         sync.RWMutex
	keys       map[string]*signingKey
	currentKID string
}

// NewKeyManager creates a key manager from a PEM-encoded key pair.
func NewKeyManager(privateKeyPEM, publicKeyPEM string) (*KeyManager, error) {
	privateKey, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKey, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	if privateKey.PublicKey.N.Cmp(publicKey.N) != 0 {
		return nil, errors.New("public key does not match private key")
	}

	key := &signingKey{
		kid:       uuid.NewString(),
		private:   privateKey,
		public:    publicKey,
		createdAt: time.Now(),
	}

	return &KeyManager{
		keys:       map[string]*signingKey{key.kid: key},
		currentKID: key.kid,
	}, nil
}

// CurrentKeyID returns the kid of the signing key.
func (km *KeyManager) CurrentKeyID() string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentKID
}

// Sign signs claims with RS256 and the current key, stamping the kid header.
func (km *KeyManager) Sign(claims jwt.Claims) (string, error) {
	km.mu.RLock()
	key := km.keys[km.currentKID]
	km.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.kid
	signed, err := token.SignedString(key.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// publicKey returns the verification key for kid unless it has been retired.
func (km *KeyManager) publicKey(kid string) (*rsa.PublicKey, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	key, ok := km.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key: %s", kid)
	}
	if key.retired(time.Now()) {
		return nil, fmt.Errorf("key retired: %s", kid)
	}
	return key.public, nil
}

// keyfunc resolves the verification key from the token's kid header.
// There is no fallback to the current key.
func (km *KeyManager) keyfunc(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("missing kid in token header")
	}
	return km.publicKey(kid)
}

// JWKSet returns the public keys that still verify, for backends that check
// instance tokens offline.
func (km *KeyManager) JWKSet() jwk.Set {
	km.mu.RLock()
	defer km.mu.RUnlock()

	set := jwk.NewSet()
	now := time.Now()

	for _, k := range km.keys {
		if k.retired(now) {
			continue
		}

		jwkKey, err := jwk.FromRaw(k.public)
		if err != nil {
			continue
		}
		_ = jwkKey.Set(jwk.KeyIDKey, k.kid)
		_ = jwkKey.Set(jwk.AlgorithmKey, "RS256")
		_ = jwkKey.Set(jwk.KeyUsageKey, "sig")

		_ = set.AddKey(jwkKey)
	}

	return set
}

// RotateKeys generates a new signing key. The previous key keeps verifying
// for gracePeriod.
func (km *KeyManager) RotateKeys(gracePeriod time.Duration) error {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate new RSA key: %w", err)
	}

	now := time.Now()
	key := &signingKey{
		kid:       uuid.NewString(),
		private:   privateKey,
		public:    &privateKey.PublicKey,
		createdAt: now,
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if current, ok := km.keys[km.currentKID]; ok {
		current.retireAt = now.Add(gracePeriod)
	}
	km.keys[key.kid] = key
	km.currentKID = key.kid

	return nil
}

// CleanupExpiredKeys drops keys whose grace period has ended.
func (km *KeyManager) CleanupExpiredKeys() int {
	km.mu.Lock()
	defer km.mu.Unlock()

	now := time.Now()
	removed := 0
	for kid, k := range km.keys {
		if k.retired(now) {
			delete(km.keys, kid)
			removed++
		}
	}
	return removed
}

// parseRSAPrivateKey parses a PKCS1 or PKCS8 PEM-encoded RSA private key.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an RSA private key")
	}
	return rsaKey, nil
}

// parseRSAPublicKey parses a PKIX or PKCS1 PEM-encoded RSA public key.
func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an RSA public key")
	}
	return rsaKey, nil
}
