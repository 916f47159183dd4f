package session

import (
	"context"
	"fmt"

	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// CheckSync compares the latest stored frame of an instance with what its
// backend reports. Both sides empty, or both present with equal hashes,
// counts as in sync.
func (o *Orchestrator) CheckSync(ctx context.Context, instanceID string) (*models.FrameSyncResult, error) {
	res, _, err := o.compare(ctx, instanceID)
	return res, err
}

// ForceSync is CheckSync followed, when out of sync, by a request for the
// backend to send its frame.
func (o *Orchestrator) ForceSync(ctx context.Context, instanceID string) (*models.FrameSyncResult, error) {
	res, send, err := o.compare(ctx, instanceID)
	if err != nil || res.Error != "" {
		return res, err
	}

	if res.InSync {
		if res.LocalHasFrame {
			res.ActionTaken = "Frames already in sync"
		} else {
			res.ActionTaken = "No frames exist on either side"
		}
		return res, nil
	}

	resp, err := send(ctx)
	if err != nil {
		res.Error = "Failed to request frame from backend: " + errors.As(err).Message
		return res, nil
	}

	action := fmt.Sprintf("Requested frame from backend: status=%s", resp.Status)
	if resp.FrameID != "" {
		action += fmt.Sprintf(", frame_id=%s", resp.FrameID)
	}
	res.ActionTaken = action
	o.logger.Info("Frame sync forced", zap.String("instance_id", instanceID), zap.String("status", resp.Status))
	return res, nil
}

type sendFunc func(ctx context.Context) (*models.BackendFrameSendResponse, error)

func (o *Orchestrator) compare(ctx context.Context, instanceID string) (*models.FrameSyncResult, sendFunc, error) {
	inst, client, err := o.instances.Backend(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	res := &models.FrameSyncResult{
		InstanceID:   inst.InstanceID,
		InstanceName: inst.Name,
	}

	local, err := o.frames.Latest(ctx, instanceID)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if local != nil {
		res.LocalHasFrame = true
		res.LocalFrameHash = local.Hash
	}

	meta, err := client.FrameMetadata(ctx, instanceID)
	if err != nil {
		res.Error = "Failed to get backend frame status: " + errors.As(err).Message
		return res, nil, nil
	}
	res.BackendHasFrame = meta.HasFrame
	if meta.HasFrame {
		res.BackendFrameHash = meta.FrameHash
	}

	switch {
	case !res.BackendHasFrame && !res.LocalHasFrame:
		res.InSync = true
	case res.BackendHasFrame && res.LocalHasFrame && res.BackendFrameHash == res.LocalFrameHash:
		res.InSync = true
	}

	send := func(ctx context.Context) (*models.BackendFrameSendResponse, error) {
		return client.RequestFrameSend(ctx, instanceID)
	}
	return res, send, nil
}
