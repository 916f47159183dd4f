package auth_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"screen-service/internal/auth"
	"screen-service/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestKeyManager(t *testing.T) *auth.KeyManager {
	t.Helper()
	privPEM, pubPEM := testutil.GenerateTestPEMKeys(t)

	km, err := auth.NewKeyManager(privPEM, pubPEM)
	require.NoError(t, err)
	return km
}

func newTokenService(t *testing.T, km *auth.KeyManager) *auth.TokenService {
	t.Helper()
	return auth.NewTokenService(km, "screen-service", "screen-devices", auth.TokenTTLs{
		DeviceAccess:   24 * time.Hour,
		DeviceRefresh:  30 * 24 * time.Hour,
		InstanceAccess: time.Hour,
	})
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTokenService(t, createTestKeyManager(t))

	tests := []struct {
		name string
		kind auth.TokenKind
		jti  string
	}{
		{name: "device access", kind: auth.KindDeviceAccess},
		{name: "device refresh with jti", kind: auth.KindDeviceRefresh, jti: "jti-1"},
		{name: "instance access", kind: auth.KindInstanceAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Issue("dev_abc", tt.kind, 0, tt.jti)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := svc.Verify(token, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, "dev_abc", claims.Subject)
			assert.Equal(t, tt.kind, claims.Kind)
			assert.Equal(t, tt.jti, claims.ID)
			assert.WithinDuration(t, time.Now().Add(svc.TTL(tt.kind)), claims.ExpiresAt.Time, 5*time.Second)
		})
	}
}

func TestIssue_ClaimShape(t *testing.T) {
	svc := newTokenService(t, createTestKeyManager(t))

	token, err := svc.Issue("inst_1", auth.KindInstanceAccess, 0, "")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	header, err := jwt.NewParser().DecodeSegment(parts[0])
	require.NoError(t, err)
	var h map[string]any
	require.NoError(t, json.Unmarshal(header, &h))
	assert.Equal(t, "RS256", h["alg"])
	assert.NotEmpty(t, h["kid"])

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	var p map[string]any
	require.NoError(t, json.Unmarshal(payload, &p))
	assert.Equal(t, "instance_access", p["type"])
	assert.Equal(t, "inst_1", p["sub"])
	assert.NotContains(t, p, "jti")
}

func TestVerify_UniformFailure(t *testing.T) {
	km := createTestKeyManager(t)
	svc := newTokenService(t, km)
	other := newTokenService(t, createTestKeyManager(t))

	access, err := svc.Issue("dev_1", auth.KindDeviceAccess, 0, "")
	require.NoError(t, err)
	foreign, err := other.Issue("dev_1", auth.KindDeviceAccess, 0, "")
	require.NoError(t, err)

	wrongAudience := auth.NewTokenService(km, "screen-service", "other", auth.TokenTTLs{DeviceAccess: time.Hour})
	wrongAud, err := wrongAudience.Issue("dev_1", auth.KindDeviceAccess, 0, "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		kind  auth.TokenKind
	}{
		{name: "malformed", token: "not-a-token", kind: auth.KindDeviceAccess},
		{name: "empty", token: "", kind: auth.KindDeviceAccess},
		{name: "wrong kind", token: access, kind: auth.KindDeviceRefresh},
		{name: "foreign signature", token: foreign, kind: auth.KindDeviceAccess},
		{name: "wrong audience", token: wrongAud, kind: auth.KindDeviceAccess},
		{name: "tampered", token: access[:len(access)-4] + "abcd", kind: auth.KindDeviceAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.Verify(tt.token, tt.kind)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	svc := newTokenService(t, createTestKeyManager(t))

	token, err := svc.Issue("dev_1", auth.KindDeviceAccess, time.Nanosecond, "")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = svc.Verify(token, auth.KindDeviceAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestIssueRefresh(t *testing.T) {
	svc := newTokenService(t, createTestKeyManager(t))

	first, jti1, err := svc.IssueRefresh("dev_1")
	require.NoError(t, err)
	second, jti2, err := svc.IssueRefresh("dev_1")
	require.NoError(t, err)

	assert.NotEqual(t, jti1, jti2)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(2592000), svc.ExpiresIn(auth.KindDeviceRefresh))

	claims, err := svc.Verify(second, auth.KindDeviceRefresh)
	require.NoError(t, err)
	assert.Equal(t, jti2, claims.ID)
}

func TestDeviceSecret(t *testing.T) {
	secret, err := auth.GenerateDeviceSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 43)

	hash, err := auth.HashDeviceSecret(secret, 4)
	require.NoError(t, err)
	assert.True(t, auth.CheckDeviceSecret(hash, secret))
	assert.False(t, auth.CheckDeviceSecret(hash, secret+"x"))
}
