// Package session implements the device/instance protocol: polling, instance
// switching, input routing, frame submission and frame sync.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"screen-service/internal/backend"
	"screen-service/internal/cache"
	"screen-service/internal/database"
	"screen-service/internal/frames"
	"screen-service/internal/metrics"
	"screen-service/internal/models"
	"screen-service/internal/registry"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var errUnchanged = stderrors.New("unchanged")

// Options tune the orchestrator
type Options struct {
	PollInterval  time.Duration
	SleepInterval time.Duration
	MetadataTTL   time.Duration
	// Concurrency bounds background backend calls. Work beyond it is dropped.
	Concurrency int
}

// Orchestrator holds no session state of its own; everything lives in the
// device, instance and frame records.
type Orchestrator struct {
	devices   *registry.DeviceRegistry
	instances *registry.InstanceRegistry
	frames    *frames.Store
	repo      database.Repository
	cache     cache.Cache
	opts      Options
	logger    *zap.Logger

	pool    *semaphore.Weighted
	wg      sync.WaitGroup
	sending sync.Map // instance id -> in-flight frame send request
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	devices *registry.DeviceRegistry,
	instances *registry.InstanceRegistry,
	store *frames.Store,
	repo database.Repository,
	c cache.Cache,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		devices:   devices,
		instances: instances,
		frames:    store,
		repo:      repo,
		cache:     c,
		opts:      opts,
		logger:    logger,
		pool:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Poll answers a device heartbeat with the next action. It is safe to repeat
// with the same lastFrameID. Backend trouble degrades to NOOP.
func (o *Orchestrator) Poll(ctx context.Context, deviceID, lastFrameID string) (*models.DeviceState, error) {
	d, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	_ = o.devices.Touch(ctx, deviceID)

	state := o.decide(ctx, d, lastFrameID)
	metrics.DevicePolled(string(state.Action))
	return state, nil
}

func (o *Orchestrator) decide(ctx context.Context, d *models.Device, lastFrameID string) *models.DeviceState {
	if d.AuthStatus != models.AuthAuthorized {
		return &models.DeviceState{Action: models.ActionSleep, PollAfterMs: o.opts.SleepInterval.Milliseconds()}
	}

	state := &models.DeviceState{
		Action:           models.ActionNoop,
		ActiveInstanceID: d.ActiveInstanceID,
		PollAfterMs:      o.opts.PollInterval.Milliseconds(),
	}

	if d.CurrentFrameID != "" && d.CurrentFrameID != lastFrameID {
		state.Action = models.ActionFetchFrame
		state.FrameID = d.CurrentFrameID
		return state
	}
	if d.ActiveInstanceID == "" {
		return state
	}

	local, known := o.probe(ctx, d.ActiveInstanceID)
	if !known || local == nil || local.FrameID == d.CurrentFrameID {
		return state
	}

	if err := o.pointDevice(ctx, d.DeviceID, d.ActiveInstanceID, local.FrameID); err != nil {
		if !stderrors.Is(err, errUnchanged) {
			o.logger.Warn("Failed to update current frame", zap.String("device_id", d.DeviceID), zap.Error(err))
		}
		return state
	}
	if local.FrameID != lastFrameID {
		state.Action = models.ActionFetchFrame
		state.FrameID = local.FrameID
	}
	return state
}

// probe asks the backend what its current frame is. When the frame is
// already stored locally, the instance's newest stored frame is returned, so
// stale metadata never points a device back at an older frame. When it is
// not stored, a frame send is requested in the background and nil is
// returned. known is false when the backend could not be asked or reported
// nothing usable.
func (o *Orchestrator) probe(ctx context.Context, instanceID string) (*models.Frame, bool) {
	meta, client, err := o.frameMetadata(ctx, instanceID)
	if err != nil {
		o.logger.Warn("Frame metadata unavailable", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, false
	}
	if !meta.HasFrame || (meta.FrameHash == "" && meta.FrameID == "") {
		return nil, false
	}

	local, err := o.localFrame(ctx, instanceID, meta)
	if err != nil {
		o.logger.Warn("Frame lookup failed", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, false
	}
	if local == nil {
		o.requestFrameSend(ctx, instanceID, client)
		return nil, true
	}

	latest, err := o.frames.Latest(ctx, instanceID)
	if err != nil {
		o.logger.Warn("Latest frame lookup failed", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, false
	}
	if latest != nil && latest.FrameID != local.FrameID {
		return latest, true
	}
	return local, true
}

// frameMetadata serves backend frame metadata through the short-lived cache.
// The client is nil on a cache hit.
func (o *Orchestrator) frameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, backend.Client, error) {
	meta, err := o.cache.GetFrameMetadata(ctx, instanceID)
	if err != nil {
		o.logger.Debug("Frame metadata cache read failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
	if meta != nil {
		return meta, nil, nil
	}

	_, client, err := o.instances.Backend(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	meta, err = client.FrameMetadata(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if err := o.cache.SetFrameMetadata(ctx, meta, o.opts.MetadataTTL); err != nil {
		o.logger.Debug("Frame metadata cache write failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
	return meta, client, nil
}

// localFrame matches backend metadata to a stored frame, by hash when the
// backend reports one and by frame id otherwise.
func (o *Orchestrator) localFrame(ctx context.Context, instanceID string, meta *models.BackendFrameMetadata) (*models.Frame, error) {
	if meta.FrameHash != "" {
		return o.frames.FindByHash(ctx, instanceID, meta.FrameHash)
	}
	f, err := o.frames.Get(ctx, meta.FrameID)
	if err != nil || f == nil || f.InstanceID != instanceID {
		return nil, err
	}
	return f, nil
}

// pointDevice sets the device's current frame if it still shows instanceID
func (o *Orchestrator) pointDevice(ctx context.Context, deviceID, instanceID, frameID string) error {
	_, err := o.repo.UpdateDevice(ctx, deviceID, func(d *models.Device) error {
		if d.ActiveInstanceID != instanceID || d.CurrentFrameID == frameID {
			return errUnchanged
		}
		d.CurrentFrameID = frameID
		return nil
	})
	return err
}

// requestFrameSend asks the backend to push its frame, at most one request
// per instance in flight.
func (o *Orchestrator) requestFrameSend(ctx context.Context, instanceID string, client backend.Client) {
	if _, busy := o.sending.LoadOrStore(instanceID, struct{}{}); busy {
		return
	}
	ok := o.background(ctx, "frame_send", instanceID, func(ctx context.Context) error {
		defer o.sending.Delete(instanceID)
		c := client
		if c == nil {
			var err error
			if _, c, err = o.instances.Backend(ctx, instanceID); err != nil {
				return err
			}
		}
		resp, err := c.RequestFrameSend(ctx, instanceID)
		if err != nil {
			return err
		}
		o.logger.Debug("Frame send requested",
			zap.String("instance_id", instanceID),
			zap.String("status", resp.Status),
		)
		return nil
	})
	if !ok {
		o.sending.Delete(instanceID)
	}
}

// background runs fn on the bounded pool detached from the caller's
// cancellation. It reports false when the pool was full and fn was dropped.
func (o *Orchestrator) background(ctx context.Context, task, instanceID string, fn func(ctx context.Context) error) bool {
	if !o.pool.TryAcquire(1) {
		metrics.BackgroundDropped()
		o.logger.Warn("Background pool full, dropping task",
			zap.String("task", task),
			zap.String("instance_id", instanceID),
		)
		return false
	}

	o.wg.Add(1)
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.wg.Done()
		defer o.pool.Release(1)
		if err := fn(bgCtx); err != nil {
			o.logger.Warn("Background task failed",
				zap.String("task", task),
				zap.String("instance_id", instanceID),
				zap.Error(err),
			)
		}
	}()
	return true
}

// Wait blocks until background work has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SubmitFrame stores a frame pushed by a backend. Every device showing the
// instance is pointed at it.
func (o *Orchestrator) SubmitFrame(ctx context.Context, instanceID string, data []byte) (*models.Frame, error) {
	if _, err := o.instances.Get(ctx, instanceID); err != nil {
		return nil, err
	}
	f, _, err := o.frames.Put(ctx, instanceID, data)
	if err != nil {
		return nil, err
	}

	// the backend just pushed this frame, so it is the backend's current one
	meta := &models.BackendFrameMetadata{
		InstanceID: instanceID,
		HasFrame:   true,
		FrameHash:  f.Hash,
		Width:      f.Width,
		Height:     f.Height,
		CreatedAt:  &f.CreatedAt,
	}
	if err := o.cache.SetFrameMetadata(ctx, meta, o.opts.MetadataTTL); err != nil {
		o.logger.Debug("Frame metadata cache write failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
	return f, nil
}

// Notify handles a backend saying its state changed: cached metadata is
// dropped and the frame is requested.
func (o *Orchestrator) Notify(ctx context.Context, instanceID string) error {
	_, client, err := o.instances.Backend(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := o.cache.DeleteFrameMetadata(ctx, instanceID); err != nil {
		o.logger.Debug("Frame metadata cache invalidation failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
	o.requestFrameSend(ctx, instanceID, client)
	return nil
}

// GetFrame returns a stored frame the device may display, or nil. A device
// may fetch its current frame and frames of the instances assigned to it.
func (o *Orchestrator) GetFrame(ctx context.Context, deviceID, frameID string) (*models.Frame, error) {
	f, err := o.frames.Get(ctx, frameID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if f == nil {
		return nil, nil
	}

	d, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if f.FrameID == d.CurrentFrameID || (f.InstanceID != "" && f.InstanceID == d.ActiveInstanceID) {
		return f, nil
	}

	assigned, err := o.instances.Assigned(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	for _, id := range assigned {
		if f.InstanceID != "" && id == f.InstanceID {
			return f, nil
		}
	}

	o.logger.Warn("Frame requested by unassigned device",
		zap.String("device_id", deviceID),
		zap.String("frame_id", frameID),
		zap.String("instance_id", f.InstanceID),
	)
	return nil, nil
}

// Render asks the backend to re-render now. The call is synchronous and its
// failure is returned, since only admins trigger it.
func (o *Orchestrator) Render(ctx context.Context, instanceID string) error {
	_, client, err := o.instances.Backend(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := client.TriggerRender(ctx, instanceID); err != nil {
		return errors.Newf(errors.As(err), "Failed to trigger render: %s", errors.As(err).Message)
	}
	return nil
}
