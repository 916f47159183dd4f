package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"screen-service/pkg/errors"
)

// ErrInvalidToken is the only error Verify returns. Malformed, forged,
// expired and wrong-kind tokens are indistinguishable to the caller.
var ErrInvalidToken = errors.ErrInvalidToken

// Verify checks signature, issuer, audience, expiry and kind.
func (s *TokenService) Verify(tokenString string, expected TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keys.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Kind != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
