package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"screen-service/internal/auth"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// InstanceLookup finds an instance for credential checks. A missing
// instance is reported as an error.
type InstanceLookup interface {
	Get(ctx context.Context, instanceID string) (*models.Instance, error)
}

// CredentialKind says how a backend proved it may act for an instance
type CredentialKind string

const (
	CredentialInstanceJWT CredentialKind = "instance_jwt"
	CredentialStaticToken CredentialKind = "static_token"
)

// InstanceCredential is the accepted backend credential
type InstanceCredential struct {
	Kind       CredentialKind
	InstanceID string
}

// Authenticator guards the device, backend and admin routes
type Authenticator struct {
	tokens     *auth.TokenService
	instances  InstanceLookup
	adminToken string
	logger     *zap.Logger
}

// NewAuthenticator creates an authenticator. An empty adminToken leaves the
// admin routes open.
func NewAuthenticator(tokens *auth.TokenService, instances InstanceLookup, adminToken string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		tokens:     tokens,
		instances:  instances,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Device requires a device token of the given kind. On routes carrying a
// {device_id} path variable the token subject must match it.
func (a *Authenticator) Device(kind auth.TokenKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, errors.New(errors.ErrInvalidToken, "Missing bearer token"))
				return
			}

			claims, err := a.tokens.Verify(token, kind)
			if err != nil {
				writeError(w, errors.ErrInvalidToken)
				return
			}

			if id, ok := mux.Vars(r)["device_id"]; ok && id != claims.Subject {
				a.logger.Warn("Device token used for another device",
					zap.String("subject", claims.Subject),
					zap.String("device_id", id),
				)
				writeError(w, errors.New(errors.ErrForbidden, "Token does not belong to this device"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Instance accepts, in order, an instance access JWT whose subject is the
// {instance_id} path variable, then the instance's static token.
func (a *Authenticator) Instance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instanceID := mux.Vars(r)["instance_id"]
		token, ok := bearerToken(r)
		if !ok || instanceID == "" {
			writeError(w, errors.New(errors.ErrInvalidToken, "Missing bearer token"))
			return
		}

		cred, err := a.instanceCredential(r.Context(), instanceID, token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), credentialKey, cred)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) instanceCredential(ctx context.Context, instanceID, token string) (*InstanceCredential, error) {
	if claims, err := a.tokens.Verify(token, auth.KindInstanceAccess); err == nil {
		if claims.Subject == instanceID {
			return &InstanceCredential{Kind: CredentialInstanceJWT, InstanceID: instanceID}, nil
		}
		return nil, errors.New(errors.ErrForbidden, "Token does not belong to this instance")
	}

	inst, err := a.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.AccessToken != "" && subtle.ConstantTimeCompare([]byte(inst.AccessToken), []byte(token)) == 1 {
		return &InstanceCredential{Kind: CredentialStaticToken, InstanceID: instanceID}, nil
	}
	return nil, errors.ErrInvalidToken
}

// Admin requires the static admin bearer token when one is configured
func (a *Authenticator) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
			writeError(w, errors.New(errors.ErrInvalidToken, "Invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClaimsFromContext returns the verified device token claims
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

// CredentialFromContext returns the accepted backend credential
func CredentialFromContext(ctx context.Context) (*InstanceCredential, bool) {
	cred, ok := ctx.Value(credentialKey).(*InstanceCredential)
	return cred, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func writeError(w http.ResponseWriter, err error) {
	se := errors.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             se.Code,
		"error_description": se.Message,
	})
}
