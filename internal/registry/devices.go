// Package registry owns device identity and the instance catalogue.
package registry

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"screen-service/internal/auth"
	"screen-service/internal/database"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errUnchanged aborts a mutation whose target state already holds
var errUnchanged = stderrors.New("unchanged")

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// RegisterParams describes a device announcing itself
type RegisterParams struct {
	HardwareID      string
	FirmwareVersion string
	Display         models.DisplayConfig
}

// AuthenticateParams are the credentials presented to obtain a refresh token
type AuthenticateParams struct {
	HardwareID      string
	DeviceSecret    string
	FirmwareVersion string
	Display         *models.DisplayConfig
}

// AuthResult is the outcome of Authenticate. RefreshToken is empty unless
// the device is authorized. Secret is only set when the call registered an
// unknown device.
type AuthResult struct {
	Device       *models.Device
	Secret       string
	RefreshToken string
	ExpiresIn    int64
}

// DeviceRegistry manages device identity and the authorization lifecycle
type DeviceRegistry struct {
	repo       database.Repository
	tokens     *auth.TokenService
	secretCost int
	logger     *zap.Logger
}

// NewDeviceRegistry creates a device registry
func NewDeviceRegistry(repo database.Repository, tokens *auth.TokenService, secretCost int, logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		repo:       repo,
		tokens:     tokens,
		secretCost: secretCost,
		logger:     logger,
	}
}

// Register creates a pending device and returns it with its plaintext
// secret. The secret is not recoverable afterwards.
func (r *DeviceRegistry) Register(ctx context.Context, p RegisterParams) (*models.Device, string, error) {
	existing, err := r.repo.GetDeviceByHardwareID(ctx, p.HardwareID)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrInternalServer)
	}
	if existing != nil {
		return nil, "", errors.Newf(errors.ErrConflict, "Device with hardware_id '%s' already registered", p.HardwareID)
	}

	secret, err := auth.GenerateDeviceSecret()
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrInternalServer)
	}
	hash, err := auth.HashDeviceSecret(secret, r.secretCost)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrInternalServer)
	}

	d := &models.Device{
		DeviceID:        newID("dev_"),
		HardwareID:      p.HardwareID,
		SecretHash:      hash,
		FirmwareVersion: p.FirmwareVersion,
		AuthStatus:      models.AuthPending,
		Display:         p.Display,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.repo.CreateDevice(ctx, d); err != nil {
		if stderrors.Is(err, database.ErrDuplicate) {
			return nil, "", errors.Newf(errors.ErrConflict, "Device with hardware_id '%s' already registered", p.HardwareID)
		}
		r.logger.Error("Failed to create device", zap.String("hardware_id", p.HardwareID), zap.Error(err))
		return nil, "", errors.Wrap(err, errors.ErrInternalServer)
	}

	r.logger.Info("Device registered",
		zap.String("device_id", d.DeviceID),
		zap.String("hardware_id", d.HardwareID),
	)
	return d, secret, nil
}

// Authenticate exchanges device credentials for a refresh token. An unknown
// hardware id is registered as pending on the spot.
func (r *DeviceRegistry) Authenticate(ctx context.Context, p AuthenticateParams) (*AuthResult, error) {
	d, err := r.repo.GetDeviceByHardwareID(ctx, p.HardwareID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	if d == nil {
		reg := RegisterParams{HardwareID: p.HardwareID, FirmwareVersion: p.FirmwareVersion}
		if p.Display != nil {
			reg.Display = *p.Display
		}
		created, secret, err := r.Register(ctx, reg)
		if err == nil {
			return &AuthResult{Device: created, Secret: secret}, nil
		}
		if !stderrors.Is(err, errors.ErrConflict) {
			return nil, err
		}
		// Lost a registration race; authenticate against the winner.
		if d, err = r.repo.GetDeviceByHardwareID(ctx, p.HardwareID); err != nil || d == nil {
			return nil, errors.ErrInternalServer
		}
	}

	if !auth.CheckDeviceSecret(d.SecretHash, p.DeviceSecret) {
		r.logger.Warn("Invalid device credentials", zap.String("device_id", d.DeviceID))
		return nil, errors.ErrInvalidCredentials
	}

	switch d.AuthStatus {
	case models.AuthPending:
		if p.FirmwareVersion != "" && p.FirmwareVersion != d.FirmwareVersion {
			if d, err = r.updateFirmware(ctx, d.DeviceID, p.FirmwareVersion); err != nil {
				return nil, err
			}
		}
		return &AuthResult{Device: d}, nil
	case models.AuthRejected, models.AuthRevoked:
		return nil, errors.Newf(errors.ErrForbidden, "Device access %s. Contact administrator.", d.AuthStatus)
	case models.AuthAuthorized:
	default:
		return nil, errors.Newf(errors.ErrForbidden, "Invalid device status: %s", d.AuthStatus)
	}

	token, jti, err := r.tokens.IssueRefresh(d.DeviceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	updated, err := r.repo.UpdateDevice(ctx, d.DeviceID, func(dev *models.Device) error {
		if dev.AuthStatus != models.AuthAuthorized {
			return errors.Newf(errors.ErrForbidden, "Device access %s. Contact administrator.", dev.AuthStatus)
		}
		if p.FirmwareVersion != "" {
			dev.FirmwareVersion = p.FirmwareVersion
		}
		dev.CurrentRefreshJTI = jti
		return nil
	})
	if err != nil {
		return nil, r.mutationError(err)
	}

	r.logger.Info("Refresh token issued", zap.String("device_id", d.DeviceID))
	return &AuthResult{
		Device:       updated,
		RefreshToken: token,
		ExpiresIn:    r.tokens.ExpiresIn(auth.KindDeviceRefresh),
	}, nil
}

func (r *DeviceRegistry) updateFirmware(ctx context.Context, deviceID, version string) (*models.Device, error) {
	d, err := r.repo.UpdateDevice(ctx, deviceID, func(dev *models.Device) error {
		dev.FirmwareVersion = version
		return nil
	})
	if err != nil {
		return nil, r.mutationError(err)
	}
	return d, nil
}

// RefreshAccess mints an access token for the holder of a refresh token
// carrying presentedJTI. Only the most recently issued refresh token is
// accepted.
func (r *DeviceRegistry) RefreshAccess(ctx context.Context, deviceID, presentedJTI string) (string, int64, error) {
	d, err := r.Get(ctx, deviceID)
	if err != nil {
		return "", 0, err
	}
	if (presentedJTI != "" || d.CurrentRefreshJTI != "") && presentedJTI != d.CurrentRefreshJTI {
		r.logger.Warn("Superseded refresh token presented", zap.String("device_id", deviceID))
		return "", 0, errors.ErrTokenRevoked
	}
	if d.AuthStatus != models.AuthAuthorized {
		return "", 0, errors.Newf(errors.ErrForbidden, "Device access %s. Contact administrator.", d.AuthStatus)
	}

	token, err := r.tokens.Issue(deviceID, auth.KindDeviceAccess, 0, "")
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrInternalServer)
	}
	return token, r.tokens.ExpiresIn(auth.KindDeviceAccess), nil
}

// RenewRefresh replaces the device's refresh token, invalidating the old one
func (r *DeviceRegistry) RenewRefresh(ctx context.Context, deviceID string) (string, int64, error) {
	token, jti, err := r.tokens.IssueRefresh(deviceID)
	if err != nil {
		return "", 0, errors.Wrap(err, errors.ErrInternalServer)
	}

	_, err = r.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if d.AuthStatus != models.AuthAuthorized {
			return errors.Newf(errors.ErrForbidden, "Device access %s. Contact administrator.", d.AuthStatus)
		}
		d.CurrentRefreshJTI = jti
		return nil
	})
	if err != nil {
		return "", 0, r.mutationError(err)
	}

	r.logger.Info("Refresh token renewed", zap.String("device_id", deviceID))
	return token, r.tokens.ExpiresIn(auth.KindDeviceRefresh), nil
}

// Authorize moves a device to authorized. Already authorized devices are
// left untouched and changed is false.
func (r *DeviceRegistry) Authorize(ctx context.Context, deviceID, actor string) (*models.Device, bool, error) {
	return r.transition(ctx, deviceID, "authorized", func(d *models.Device) error {
		if d.AuthStatus == models.AuthAuthorized {
			return errUnchanged
		}
		now := time.Now().UTC()
		d.AuthStatus = models.AuthAuthorized
		d.AuthorizedAt = &now
		d.AuthorizedBy = actor
		return nil
	})
}

// Reject refuses a device
func (r *DeviceRegistry) Reject(ctx context.Context, deviceID, actor string) (*models.Device, bool, error) {
	return r.transition(ctx, deviceID, "rejected", func(d *models.Device) error {
		if d.AuthStatus == models.AuthRejected {
			return errUnchanged
		}
		d.AuthStatus = models.AuthRejected
		d.CurrentRefreshJTI = ""
		return nil
	})
}

// Revoke withdraws access and invalidates the current refresh token
func (r *DeviceRegistry) Revoke(ctx context.Context, deviceID, actor string) (*models.Device, bool, error) {
	return r.transition(ctx, deviceID, "revoked", func(d *models.Device) error {
		if d.AuthStatus == models.AuthRevoked && d.CurrentRefreshJTI == "" {
			return errUnchanged
		}
		d.AuthStatus = models.AuthRevoked
		d.CurrentRefreshJTI = ""
		return nil
	})
}

// Reauthorize restores a rejected or revoked device. The device must
// authenticate again to get a refresh token.
func (r *DeviceRegistry) Reauthorize(ctx context.Context, deviceID, actor string) (*models.Device, bool, error) {
	return r.transition(ctx, deviceID, "reauthorized", func(d *models.Device) error {
		if d.AuthStatus == models.AuthAuthorized {
			return errUnchanged
		}
		now := time.Now().UTC()
		d.AuthStatus = models.AuthAuthorized
		d.AuthorizedAt = &now
		d.AuthorizedBy = actor
		d.CurrentRefreshJTI = ""
		return nil
	})
}

func (r *DeviceRegistry) transition(ctx context.Context, deviceID, verb string, fn database.DeviceMutation) (*models.Device, bool, error) {
	d, err := r.repo.UpdateDevice(ctx, deviceID, fn)
	if stderrors.Is(err, errUnchanged) {
		current, err := r.Get(ctx, deviceID)
		return current, false, err
	}
	if err != nil {
		return nil, false, r.mutationError(err)
	}

	r.logger.Info("Device "+verb,
		zap.String("device_id", deviceID),
		zap.String("auth_status", string(d.AuthStatus)),
	)
	return d, true, nil
}

// Touch records that the device was just seen
func (r *DeviceRegistry) Touch(ctx context.Context, deviceID string) error {
	if err := r.repo.TouchDevice(ctx, deviceID); err != nil {
		r.logger.Warn("Failed to update last_seen_at", zap.String("device_id", deviceID), zap.Error(err))
		return errors.Wrap(err, errors.ErrInternalServer)
	}
	return nil
}

// Get returns a device or NOT_FOUND
func (r *DeviceRegistry) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	d, err := r.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if d == nil {
		return nil, errors.Newf(errors.ErrNotFound, "Device '%s' not found", deviceID)
	}
	return d, nil
}

// List returns all devices, optionally filtered by status
func (r *DeviceRegistry) List(ctx context.Context, status models.AuthStatus) ([]*models.Device, error) {
	devices, err := r.repo.ListDevices(ctx, status)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return devices, nil
}

// ListPending returns devices awaiting an admin decision, newest first
func (r *DeviceRegistry) ListPending(ctx context.Context) ([]*models.Device, error) {
	devices, err := r.List(ctx, models.AuthPending)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(devices)-1; i < j; i, j = i+1, j-1 {
		devices[i], devices[j] = devices[j], devices[i]
	}
	return devices, nil
}

func (r *DeviceRegistry) mutationError(err error) error {
	if stderrors.Is(err, database.ErrNotFound) {
		return errors.New(errors.ErrNotFound, "Device not found")
	}
	var se *errors.ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	r.logger.Error("Device update failed", zap.Error(err))
	return errors.Wrap(err, errors.ErrInternalServer)
}
