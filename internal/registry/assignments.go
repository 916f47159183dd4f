package registry

import (
	"context"
	stderrors "errors"
	"time"

	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// Assign adds an instance to the device's rotation. A device without an
// active instance starts showing it. Assigning twice is a no-op and returns
// added=false.
func (r *InstanceRegistry) Assign(ctx context.Context, deviceID, instanceID string, position *int) (bool, error) {
	if _, err := r.device(ctx, deviceID); err != nil {
		return false, err
	}
	if _, err := r.Get(ctx, instanceID); err != nil {
		return false, err
	}

	current, err := r.repo.ListAssignments(ctx, deviceID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrInternalServer)
	}
	pos := len(current)
	if position != nil {
		pos = *position
	}

	added, err := r.repo.AddAssignment(ctx, &models.Assignment{
		DeviceID:   deviceID,
		InstanceID: instanceID,
		Position:   pos,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrInternalServer)
	}
	if !added {
		return false, nil
	}

	_, err = r.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if d.ActiveInstanceID != "" {
			return errUnchanged
		}
		d.ActiveInstanceID = instanceID
		return nil
	})
	if err != nil && !stderrors.Is(err, errUnchanged) {
		return true, errors.Wrap(err, errors.ErrInternalServer)
	}

	r.logger.Info("Instance assigned",
		zap.String("device_id", deviceID),
		zap.String("instance_id", instanceID),
		zap.Int("position", pos),
	)
	return true, nil
}

// Unassign removes an instance from the device's rotation. If it was the
// active one, the first remaining assignment takes over.
func (r *InstanceRegistry) Unassign(ctx context.Context, deviceID, instanceID string) error {
	if _, err := r.device(ctx, deviceID); err != nil {
		return err
	}

	removed, err := r.repo.RemoveAssignment(ctx, deviceID, instanceID)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternalServer)
	}
	if !removed {
		return errors.New(errors.ErrNotFound, "Assignment not found")
	}

	remaining, err := r.Assigned(ctx, deviceID)
	if err != nil {
		return err
	}
	next := ""
	if len(remaining) > 0 {
		next = remaining[0]
	}

	_, err = r.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if d.ActiveInstanceID != instanceID {
			return errUnchanged
		}
		d.ActiveInstanceID = next
		return nil
	})
	if err != nil && !stderrors.Is(err, errUnchanged) {
		return errors.Wrap(err, errors.ErrInternalServer)
	}

	r.logger.Info("Instance unassigned", zap.String("device_id", deviceID), zap.String("instance_id", instanceID))
	return nil
}

// SetActive selects the instance a device shows. The instance must be
// assigned to the device.
func (r *InstanceRegistry) SetActive(ctx context.Context, deviceID, instanceID string) (*models.Device, error) {
	if _, err := r.device(ctx, deviceID); err != nil {
		return nil, err
	}
	assigned, err := r.Assigned(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !contains(assigned, instanceID) {
		return nil, errors.Newf(errors.ErrInvalidRequest, "Instance '%s' is not assigned to device '%s'", instanceID, deviceID)
	}

	d, err := r.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		d.ActiveInstanceID = instanceID
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return d, nil
}

// Assigned lists the device's instance ids in rotation order
func (r *InstanceRegistry) Assigned(ctx context.Context, deviceID string) ([]string, error) {
	list, err := r.repo.ListAssignments(ctx, deviceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.InstanceID)
	}
	return ids, nil
}

func (r *InstanceRegistry) device(ctx context.Context, deviceID string) (*models.Device, error) {
	d, err := r.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if d == nil {
		return nil, errors.Newf(errors.ErrNotFound, "Device '%s' not found", deviceID)
	}
	return d, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
