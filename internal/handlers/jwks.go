package handlers

import (
	"encoding/json"
	"net/http"

	"screen-service/internal/auth"

	"go.uber.org/zap"
)

// JWKSHandler publishes the token verification keys so backends can check
// instance access tokens offline.
type JWKSHandler struct {
	keyManager *auth.KeyManager
	logger     *zap.Logger
}

// NewJWKSHandler creates a new JWKS handler
func NewJWKSHandler(keyManager *auth.KeyManager, logger *zap.Logger) *JWKSHandler {
	return &JWKSHandler{
		keyManager: keyManager,
		logger:     logger,
	}
}

// HandleJWKS handles GET /.well-known/jwks.json
// @Summary     Token verification keys
// @Description Public keys, current and within their grace period, as a JWK set.
// @Tags        keys
// @Produce     json
// @Success     200  {object}  map[string]interface{}
// @Router      /.well-known/jwks.json [get]
func (h *JWKSHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(h.keyManager.JWKSet())
	if err != nil {
		h.logger.Error("Failed to marshal JWKS", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
