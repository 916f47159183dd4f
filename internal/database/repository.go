package database

import (
	"context"
	"errors"

	"screen-service/internal/models"
)

var (
	// ErrNotFound is returned by update and delete operations when the row
	// does not exist. Plain lookups return nil, nil instead.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInUse is returned when deleting a backend type that instances
	// still reference.
	ErrInUse = errors.New("record still referenced")
)

// DeviceMutation changes a device inside an atomic read-modify-write.
// Returning an error aborts the update.
type DeviceMutation func(d *models.Device) error

// InstanceMutation changes an instance inside an atomic read-modify-write.
type InstanceMutation func(i *models.Instance) error

// BackendTypeMutation changes a backend type inside an atomic read-modify-write.
type BackendTypeMutation func(bt *models.BackendType) error

// Repository defines the interface for storage operations
type Repository interface {
	Close() error

	// Devices
	CreateDevice(ctx context.Context, d *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	GetDeviceByHardwareID(ctx context.Context, hardwareID string) (*models.Device, error)
	ListDevices(ctx context.Context, status models.AuthStatus) ([]*models.Device, error)
	UpdateDevice(ctx context.Context, deviceID string, fn DeviceMutation) (*models.Device, error)
	TouchDevice(ctx context.Context, deviceID string) error

	// Instances
	CreateInstance(ctx context.Context, inst *models.Instance) error
	GetInstance(ctx context.Context, instanceID string) (*models.Instance, error)
	ListInstances(ctx context.Context, backendTypeID string) ([]*models.Instance, error)
	UpdateInstance(ctx context.Context, instanceID string, fn InstanceMutation) (*models.Instance, error)
	// DeleteInstance removes the instance, its assignments and any device
	// pointers to it. Its frames are kept with a cleared instance id.
	DeleteInstance(ctx context.Context, instanceID string) error

	// Backend types
	CreateBackendType(ctx context.Context, bt *models.BackendType) error
	GetBackendType(ctx context.Context, typeID string) (*models.BackendType, error)
	ListBackendTypes(ctx context.Context, activeOnly bool) ([]*models.BackendType, error)
	UpdateBackendType(ctx context.Context, typeID string, fn BackendTypeMutation) (*models.BackendType, error)
	// DeleteBackendType fails with ErrInUse while any instance references it.
	DeleteBackendType(ctx context.Context, typeID string) error

	// Assignments
	AddAssignment(ctx context.Context, a *models.Assignment) (bool, error)
	RemoveAssignment(ctx context.Context, deviceID, instanceID string) (bool, error)
	ListAssignments(ctx context.Context, deviceID string) ([]*models.Assignment, error)

	// Frames
	// StoreFrame writes f unless the instance's latest frame already has the
	// same hash, points every device active on the instance at the stored
	// frame and prunes the instance's frames down to the newest retain,
	// sparing frames that a device still references. All in one transaction.
	StoreFrame(ctx context.Context, f *models.Frame, retain int) (*models.Frame, bool, error)
	GetFrame(ctx context.Context, frameID string) (*models.Frame, error)
	LatestFrame(ctx context.Context, instanceID string) (*models.Frame, error)
	FindFrameByHash(ctx context.Context, instanceID, hash string) (*models.Frame, error)

	// Audit
	RecordInput(ctx context.Context, rec *models.InputRecord) error

	Stats(ctx context.Context) (*models.SystemStats, error)
}
