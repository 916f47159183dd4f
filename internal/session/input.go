package session

import (
	"context"
	stderrors "errors"
	"time"

	"screen-service/internal/metrics"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// Direction of an instance switch
type Direction int

const (
	Previous Direction = -1
	Next     Direction = 1
)

// SubmitInput records a device button event and acts on it without waiting
// for any backend. Context button presses switch instances; everything else
// is forwarded to the active instance.
func (o *Orchestrator) SubmitInput(ctx context.Context, deviceID string, event models.InputEvent) error {
	d, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.AuthStatus != models.AuthAuthorized {
		return errors.Newf(errors.ErrForbidden, "Device access %s. Contact administrator.", d.AuthStatus)
	}

	rec := &models.InputRecord{
		DeviceID:       deviceID,
		InstanceID:     d.ActiveInstanceID,
		Button:         event.Button,
		EventType:      event.EventType,
		EventTimestamp: event.Timestamp,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := o.repo.RecordInput(ctx, rec); err != nil {
		o.logger.Error("Failed to record input", zap.String("device_id", deviceID), zap.Error(err))
		return errors.Wrap(err, errors.ErrInternalServer)
	}

	switch event.Button {
	case models.BtnContextLeft, models.BtnContextRight:
		if event.EventType != models.EventPress {
			metrics.InputHandled("ignored")
			return nil
		}
		dir := Next
		if event.Button == models.BtnContextLeft {
			dir = Previous
		}
		metrics.InputHandled("switch")
		o.background(ctx, "switch", d.ActiveInstanceID, func(ctx context.Context) error {
			_, err := o.SwitchInstance(ctx, deviceID, dir)
			return err
		})
		return nil
	}

	if d.ActiveInstanceID == "" {
		metrics.InputHandled("dropped")
		o.logger.Debug("Input without active instance", zap.String("device_id", deviceID))
		return nil
	}

	instanceID := d.ActiveInstanceID
	metrics.InputHandled("forwarded")
	o.background(ctx, "forward_input", instanceID, func(ctx context.Context) error {
		_, client, err := o.instances.Backend(ctx, instanceID)
		if err != nil {
			return err
		}
		return client.ForwardInput(ctx, instanceID, event)
	})
	return nil
}

// SwitchInstance moves the device to the previous or next assigned
// instance, wrapping around. A device with no usable active instance lands
// on the first assignment.
func (o *Orchestrator) SwitchInstance(ctx context.Context, deviceID string, dir Direction) (*models.Device, error) {
	d, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	assigned, err := o.instances.Assigned(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(assigned) == 0 {
		return d, nil
	}

	target := assigned[0]
	for i, id := range assigned {
		if id == d.ActiveInstanceID {
			n := len(assigned)
			target = assigned[((i+int(dir))%n+n)%n]
			break
		}
	}

	return o.activate(ctx, deviceID, target)
}

// SelectInstance makes an assigned instance active on the device
func (o *Orchestrator) SelectInstance(ctx context.Context, deviceID, instanceID string) (*models.Device, error) {
	if _, err := o.instances.SetActive(ctx, deviceID, instanceID); err != nil {
		return nil, err
	}
	return o.rebind(ctx, deviceID, instanceID)
}

func (o *Orchestrator) activate(ctx context.Context, deviceID, instanceID string) (*models.Device, error) {
	_, err := o.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		d.ActiveInstanceID = instanceID
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	o.logger.Info("Active instance switched", zap.String("device_id", deviceID), zap.String("instance_id", instanceID))
	return o.rebind(ctx, deviceID, instanceID)
}

// rebind points the device at the freshest frame it can find for its new
// instance: the backend's current one when stored locally, else the latest
// stored one. With neither, the pointer is cleared.
func (o *Orchestrator) rebind(ctx context.Context, deviceID, instanceID string) (*models.Device, error) {
	frameID := ""
	if local, _ := o.probe(ctx, instanceID); local != nil {
		frameID = local.FrameID
	} else if latest, err := o.frames.Latest(ctx, instanceID); err == nil && latest != nil {
		frameID = latest.FrameID
	}

	d, err := o.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if d.ActiveInstanceID != instanceID {
			return errUnchanged
		}
		d.CurrentFrameID = frameID
		return nil
	})
	if stderrors.Is(err, errUnchanged) {
		return o.devices.Get(ctx, deviceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return d, nil
}
