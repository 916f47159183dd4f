package handlers

import (
	"net/http"

	"screen-service/internal/middleware"
	"screen-service/internal/models"
	"screen-service/internal/registry"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// DeviceAuthHandler serves device registration and the token lifecycle
type DeviceAuthHandler struct {
	devices *registry.DeviceRegistry
	logger  *zap.Logger
}

// NewDeviceAuthHandler creates a new device auth handler
func NewDeviceAuthHandler(devices *registry.DeviceRegistry, logger *zap.Logger) *DeviceAuthHandler {
	return &DeviceAuthHandler{
		devices: devices,
		logger:  logger,
	}
}

// HandleRegister handles POST /auth/devices/register
// @Summary     Register a device
// @Description Registers a new device as pending. The device secret is returned only once.
// @Tags        device-auth
// @Accept      json
// @Produce     json
// @Param       body  body      models.DeviceRegistration  true  "Device registration"
// @Success     201   {object}  models.DeviceRegistrationResponse
// @Failure     400   {object}  map[string]string
// @Failure     409   {object}  map[string]string
// @Failure     429   {object}  map[string]string
// @Router      /auth/devices/register [post]
func (h *DeviceAuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.DeviceRegistration
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}

	device, secret, err := h.devices.Register(r.Context(), registry.RegisterParams{
		HardwareID:      req.HardwareID,
		FirmwareVersion: req.FirmwareVersion,
		Display:         req.Display,
	})
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusCreated, models.DeviceRegistrationResponse{
		DeviceID:     device.DeviceID,
		DeviceSecret: secret,
		AuthStatus:   device.AuthStatus,
		Message:      "Device registered. Waiting for admin authorization.",
	})
}

// HandleToken handles POST /auth/devices/token
// @Summary     Obtain a refresh token
// @Description Authenticates a device with its secret. Authorized devices receive a 30 day refresh token; pending devices receive an empty token. Unknown hardware ids are registered on the fly.
// @Tags        device-auth
// @Accept      json
// @Produce     json
// @Param       body  body      models.DeviceTokenRequest  true  "Device credentials"
// @Success     200   {object}  models.DeviceTokenResponse
// @Failure     400   {object}  map[string]string
// @Failure     401   {object}  map[string]string
// @Failure     403   {object}  map[string]string
// @Failure     429   {object}  map[string]string
// @Router      /auth/devices/token [post]
func (h *DeviceAuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req models.DeviceTokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}

	res, err := h.devices.Authenticate(r.Context(), registry.AuthenticateParams{
		HardwareID:      req.HardwareID,
		DeviceSecret:    req.DeviceSecret,
		FirmwareVersion: req.FirmwareVersion,
		Display:         req.Display,
	})
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	resp := models.DeviceTokenResponse{
		DeviceID:              res.Device.DeviceID,
		DeviceSecret:          res.Secret,
		RefreshToken:          res.RefreshToken,
		RefreshTokenExpiresIn: res.ExpiresIn,
		AuthStatus:            res.Device.AuthStatus,
	}
	switch {
	case res.Secret != "":
		resp.Message = "Device registered and pending authorization. Please wait for admin approval."
	case res.RefreshToken == "":
		resp.Message = "Device pending authorization. Please wait for admin approval."
	default:
		resp.Message = "Authentication successful."
	}

	sendJSON(w, http.StatusOK, resp)
}

// HandleRefresh handles POST /auth/devices/refresh
// @Summary     Exchange a refresh token for an access token
// @Tags        device-auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  models.AccessTokenResponse
// @Failure     401  {object}  map[string]string
// @Failure     403  {object}  map[string]string
// @Router      /auth/devices/refresh [post]
func (h *DeviceAuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		sendError(w, h.logger, errors.ErrInvalidToken)
		return
	}

	token, expiresIn, err := h.devices.RefreshAccess(r.Context(), claims.Subject, claims.ID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, models.AccessTokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

// HandleRenewRefresh handles POST /auth/devices/renew-refresh
// @Summary     Renew the refresh token
// @Description Issues a new refresh token and invalidates the previous one.
// @Tags        device-auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  models.RefreshTokenResponse
// @Failure     401  {object}  map[string]string
// @Failure     403  {object}  map[string]string
// @Router      /auth/devices/renew-refresh [post]
func (h *DeviceAuthHandler) HandleRenewRefresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		sendError(w, h.logger, errors.ErrInvalidToken)
		return
	}

	token, expiresIn, err := h.devices.RenewRefresh(r.Context(), claims.Subject)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, models.RefreshTokenResponse{
		RefreshToken: token,
		ExpiresIn:    expiresIn,
	})
}

// HandleStatus handles GET /auth/devices/status
// @Summary     Current authorization status
// @Tags        device-auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  models.DeviceAuthStatus
// @Failure     401  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /auth/devices/status [get]
func (h *DeviceAuthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		sendError(w, h.logger, errors.ErrInvalidToken)
		return
	}

	device, err := h.devices.Get(r.Context(), claims.Subject)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, models.DeviceAuthStatus{
		DeviceID:     device.DeviceID,
		AuthStatus:   device.AuthStatus,
		AuthorizedAt: device.AuthorizedAt,
	})
}
