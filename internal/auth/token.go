package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind is carried in the "type" claim
type TokenKind string

const (
	KindDeviceAccess   TokenKind = "device_access"
	KindDeviceRefresh  TokenKind = "device_refresh"
	KindInstanceAccess TokenKind = "instance_access"
)

// Claims is the claim set of every token the service issues
type Claims struct {
	Kind TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// TokenTTLs are the default lifetimes per token kind
type TokenTTLs struct {
	DeviceAccess   time.Duration
	DeviceRefresh  time.Duration
	InstanceAccess time.Duration
}

// TokenService issues and verifies signed tokens. It is stateless: refresh
// token revocation is a JTI comparison done by the device registry.
type TokenService struct {
	keys     *KeyManager
	issuer   string
	audience string
	ttls     TokenTTLs
	now      func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(keys *KeyManager, issuer, audience string, ttls TokenTTLs) *TokenService {
	return &TokenService{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		ttls:     ttls,
		now:      time.Now,
	}
}

// TTL returns the default lifetime for kind.
func (s *TokenService) TTL(kind TokenKind) time.Duration {
	switch kind {
	case KindDeviceRefresh:
		return s.ttls.DeviceRefresh
	case KindInstanceAccess:
		return s.ttls.InstanceAccess
	default:
		return s.ttls.DeviceAccess
	}
}

// ExpiresIn is TTL in whole seconds, as reported to clients.
func (s *TokenService) ExpiresIn(kind TokenKind) int64 {
	return int64(s.TTL(kind) / time.Second)
}

// Issue signs a token for subject. A zero ttl selects the default for kind;
// an empty jti omits the claim.
func (s *TokenService) Issue(subject string, kind TokenKind, ttl time.Duration, jti string) (string, error) {
	if ttl <= 0 {
		ttl = s.TTL(kind)
	}
	now := s.now()

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	return s.keys.Sign(claims)
}

// IssueRefresh mints a device refresh token with a fresh JTI.
func (s *TokenService) IssueRefresh(deviceID string) (token, jti string, err error) {
	jti = uuid.NewString()
	token, err = s.Issue(deviceID, KindDeviceRefresh, 0, jti)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}
