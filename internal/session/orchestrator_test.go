package session_test

import (
	"context"
	"testing"
	"time"

	"screen-service/internal/cache"
	"screen-service/internal/database"
	"screen-service/internal/frames"
	"screen-service/internal/mocks"
	"screen-service/internal/models"
	"screen-service/internal/registry"
	"screen-service/internal/session"
	"screen-service/internal/testutil"
	"screen-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	orch    *session.Orchestrator
	repo    *database.MemoryRepository
	backend *mocks.MockBackendClient
	store   *frames.Store
}

func newFixture(t *testing.T, c cache.Cache) *fixture {
	t.Helper()
	if c == nil {
		c = cache.Noop{}
	}
	logger := zap.NewNop()
	repo := database.NewMemoryRepository()
	tokens := testutil.NewTokenService(t)
	client := &mocks.MockBackendClient{}

	devices := registry.NewDeviceRegistry(repo, tokens, 4, logger)
	instances := registry.NewInstanceRegistry(repo, c, &mocks.MockFactory{Client: client}, tokens, time.Minute, logger)
	store := frames.NewStore(repo, 10, logger)

	orch := session.NewOrchestrator(devices, instances, store, repo, c, session.Options{
		PollInterval:  5 * time.Second,
		SleepInterval: time.Minute,
		MetadataTTL:   2 * time.Second,
		Concurrency:   8,
	}, logger)

	ctx := context.Background()
	require.NoError(t, repo.CreateBackendType(ctx, &models.BackendType{TypeID: "chess", BaseURL: "http://chess.local", IsActive: true}))
	for _, id := range []string{"inst_a", "inst_b", "inst_c"} {
		require.NoError(t, repo.CreateInstance(ctx, &models.Instance{InstanceID: id, Name: id, BackendTypeID: "chess", CreatedAt: time.Now()}))
	}

	return &fixture{orch: orch, repo: repo, backend: client, store: store}
}

func (f *fixture) addDevice(t *testing.T, id string, status models.AuthStatus, assigned ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.CreateDevice(ctx, &models.Device{DeviceID: id, HardwareID: "hw-" + id, AuthStatus: status, CreatedAt: time.Now()}))
	for i, inst := range assigned {
		_, err := f.repo.AddAssignment(ctx, &models.Assignment{DeviceID: id, InstanceID: inst, Position: i, CreatedAt: time.Now()})
		require.NoError(t, err)
	}
}

func (f *fixture) setActive(t *testing.T, deviceID, instanceID string) {
	t.Helper()
	_, err := f.repo.UpdateDevice(context.Background(), deviceID, func(d *models.Device) error {
		d.ActiveInstanceID = instanceID
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) device(t *testing.T, id string) *models.Device {
	t.Helper()
	d, err := f.repo.GetDevice(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func noFrame(instanceID string) *models.BackendFrameMetadata {
	return &models.BackendFrameMetadata{InstanceID: instanceID, HasFrame: false}
}

func TestPoll_FramePush(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")

	frame, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-1"))
	require.NoError(t, err)

	state, err := f.orch.Poll(ctx, "dev_1", "stale")
	require.NoError(t, err)
	assert.Equal(t, models.ActionFetchFrame, state.Action)
	assert.Equal(t, frame.FrameID, state.FrameID)
	assert.Equal(t, "inst_a", state.ActiveInstanceID)
	assert.Equal(t, int64(5000), state.PollAfterMs)

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(&models.BackendFrameMetadata{InstanceID: "inst_a", HasFrame: true, FrameHash: frame.Hash}, nil)

	state, err = f.orch.Poll(ctx, "dev_1", frame.FrameID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)

	assert.NotNil(t, f.device(t, "dev_1").LastSeenAt)
}

func TestPoll_Reentrant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")
	frame, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-1"))
	require.NoError(t, err)

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").Return(noFrame("inst_a"), nil)

	for i := 0; i < 2; i++ {
		state, err := f.orch.Poll(ctx, "dev_1", frame.FrameID)
		require.NoError(t, err)
		assert.Equal(t, models.ActionNoop, state.Action, "poll %d", i)
		assert.Empty(t, state.FrameID)
	}
	f.orch.Wait()
	f.backend.AssertNotCalled(t, "RequestFrameSend", mock.Anything, mock.Anything)
}

func TestPoll_UnknownBackendFrameRequestsSend(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(&models.BackendFrameMetadata{InstanceID: "inst_a", HasFrame: true, FrameID: "b-1", FrameHash: "0123456789abcdef"}, nil)
	f.backend.On("RequestFrameSend", mock.Anything, "inst_a").
		Return(&models.BackendFrameSendResponse{Status: "scheduled"}, nil)

	state, err := f.orch.Poll(ctx, "dev_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)

	f.orch.Wait()
	f.backend.AssertNumberOfCalls(t, "RequestFrameSend", 1)
}

func TestPoll_KnownBackendFrameNotOnDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")

	// Stored before the device looked at the instance, so no push reached it.
	frame, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-1"))
	require.NoError(t, err)
	f.setActive(t, "dev_1", "inst_a")

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(&models.BackendFrameMetadata{InstanceID: "inst_a", HasFrame: true, FrameHash: frame.Hash}, nil)

	state, err := f.orch.Poll(ctx, "dev_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionFetchFrame, state.Action)
	assert.Equal(t, frame.FrameID, state.FrameID)
	assert.Equal(t, frame.FrameID, f.device(t, "dev_1").CurrentFrameID)
}

func TestPoll_BackendDownIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(nil, errors.New(errors.ErrBackendUnavailable, "Timeout connecting to backend"))

	state, err := f.orch.Poll(context.Background(), "dev_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)
}

func TestPoll_UnauthorizedDeviceSleeps(t *testing.T) {
	f := newFixture(t, nil)
	f.addDevice(t, "dev_1", models.AuthRevoked)

	state, err := f.orch.Poll(context.Background(), "dev_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionSleep, state.Action)
	assert.Equal(t, int64(60000), state.PollAfterMs)

	_, err = f.orch.Poll(context.Background(), "dev_missing", "")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPoll_MetadataCached(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	f := newFixture(t, c)
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.addDevice(t, "dev_2", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")
	f.setActive(t, "dev_2", "inst_a")

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").Return(noFrame("inst_a"), nil)

	for _, id := range []string{"dev_1", "dev_2", "dev_1"} {
		_, err := f.orch.Poll(context.Background(), id, "")
		require.NoError(t, err)
	}
	f.backend.AssertNumberOfCalls(t, "FrameMetadata", 1)

	mr.FastForward(3 * time.Second)
	_, err := f.orch.Poll(context.Background(), "dev_2", "")
	require.NoError(t, err)
	f.backend.AssertNumberOfCalls(t, "FrameMetadata", 2)
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
}

func staleMetadata(instanceID string, frame *models.Frame) *models.BackendFrameMetadata {
	return &models.BackendFrameMetadata{InstanceID: instanceID, HasFrame: true, FrameHash: frame.Hash}
}

func TestPoll_NewFrameWithinMetadataTTL(t *testing.T) {
	_, c := newRedisCache(t)
	f := newFixture(t, c)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")

	first, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-1"))
	require.NoError(t, err)
	f.backend.On("FrameMetadata", mock.Anything, "inst_a").Return(staleMetadata("inst_a", first), nil).Maybe()

	state, err := f.orch.Poll(ctx, "dev_1", first.FrameID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)

	second, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-2"))
	require.NoError(t, err)

	state, err = f.orch.Poll(ctx, "dev_1", first.FrameID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFetchFrame, state.Action)
	assert.Equal(t, second.FrameID, state.FrameID)

	state, err = f.orch.Poll(ctx, "dev_1", second.FrameID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)
	assert.Equal(t, second.FrameID, f.device(t, "dev_1").CurrentFrameID)

	// Metadata still naming the older frame must not move the device back.
	require.NoError(t, c.SetFrameMetadata(ctx, staleMetadata("inst_a", first), time.Minute))
	state, err = f.orch.Poll(ctx, "dev_1", second.FrameID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNoop, state.Action)
	assert.Empty(t, state.FrameID)
	assert.Equal(t, second.FrameID, f.device(t, "dev_1").CurrentFrameID)
}

func TestSwitchInstance_StaleMetadataUsesNewestFrame(t *testing.T) {
	_, c := newRedisCache(t)
	f := newFixture(t, c)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a", "inst_b")
	f.setActive(t, "dev_1", "inst_b")

	first, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-1"))
	require.NoError(t, err)
	second, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-2"))
	require.NoError(t, err)
	f.backend.On("FrameMetadata", mock.Anything, mock.Anything).Return(staleMetadata("inst_a", first), nil).Maybe()
	require.NoError(t, c.SetFrameMetadata(ctx, staleMetadata("inst_a", first), time.Minute))

	d, err := f.orch.SwitchInstance(ctx, "dev_1", session.Previous)
	require.NoError(t, err)
	assert.Equal(t, "inst_a", d.ActiveInstanceID)
	assert.Equal(t, second.FrameID, d.CurrentFrameID)

	state, err := f.orch.Poll(ctx, "dev_1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionFetchFrame, state.Action)
	assert.Equal(t, second.FrameID, state.FrameID)
}

func TestSwitchInstance_Wraparound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a", "inst_b", "inst_c")
	f.setActive(t, "dev_1", "inst_c")

	frameA, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-a"))
	require.NoError(t, err)
	f.backend.On("FrameMetadata", mock.Anything, mock.Anything).Return(noFrame(""), nil)

	d, err := f.orch.SwitchInstance(ctx, "dev_1", session.Next)
	require.NoError(t, err)
	assert.Equal(t, "inst_a", d.ActiveInstanceID)
	assert.Equal(t, frameA.FrameID, d.CurrentFrameID)

	d, err = f.orch.SwitchInstance(ctx, "dev_1", session.Previous)
	require.NoError(t, err)
	assert.Equal(t, "inst_c", d.ActiveInstanceID)
	// Nothing stored for inst_c, so the old instance's frame is dropped.
	assert.Empty(t, d.CurrentFrameID)

	d, err = f.orch.SwitchInstance(ctx, "dev_1", session.Previous)
	require.NoError(t, err)
	assert.Equal(t, "inst_b", d.ActiveInstanceID)
}

func TestSwitchInstance_NoUsableActiveSelectsFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_b", "inst_c")
	f.setActive(t, "dev_1", "inst_gone")
	f.backend.On("FrameMetadata", mock.Anything, mock.Anything).Return(noFrame(""), nil)

	d, err := f.orch.SwitchInstance(ctx, "dev_1", session.Previous)
	require.NoError(t, err)
	assert.Equal(t, "inst_b", d.ActiveInstanceID)

	f.addDevice(t, "dev_2", models.AuthAuthorized)
	d, err = f.orch.SwitchInstance(ctx, "dev_2", session.Next)
	require.NoError(t, err)
	assert.Empty(t, d.ActiveInstanceID)
}

func TestSelectInstance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a", "inst_b")
	f.setActive(t, "dev_1", "inst_a")
	f.backend.On("FrameMetadata", mock.Anything, mock.Anything).Return(noFrame(""), nil)

	frameB, err := f.orch.SubmitFrame(ctx, "inst_b", []byte("frame-b"))
	require.NoError(t, err)

	d, err := f.orch.SelectInstance(ctx, "dev_1", "inst_b")
	require.NoError(t, err)
	assert.Equal(t, "inst_b", d.ActiveInstanceID)
	assert.Equal(t, frameB.FrameID, d.CurrentFrameID)

	_, err = f.orch.SelectInstance(ctx, "dev_1", "inst_c")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestSubmitInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a", "inst_b")
	f.setActive(t, "dev_1", "inst_a")
	f.backend.On("FrameMetadata", mock.Anything, mock.Anything).Return(noFrame(""), nil)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	enter := models.InputEvent{Button: models.BtnEnter, EventType: models.EventPress, Timestamp: ts}
	f.backend.On("ForwardInput", mock.Anything, "inst_a", enter).Return(nil)

	require.NoError(t, f.orch.SubmitInput(ctx, "dev_1", enter))
	f.orch.Wait()
	f.backend.AssertCalled(t, "ForwardInput", mock.Anything, "inst_a", enter)

	release := models.InputEvent{Button: models.BtnContextRight, EventType: models.EventRelease, Timestamp: ts}
	require.NoError(t, f.orch.SubmitInput(ctx, "dev_1", release))
	f.orch.Wait()
	assert.Equal(t, "inst_a", f.device(t, "dev_1").ActiveInstanceID)

	press := models.InputEvent{Button: models.BtnContextRight, EventType: models.EventPress, Timestamp: ts}
	require.NoError(t, f.orch.SubmitInput(ctx, "dev_1", press))
	f.orch.Wait()
	assert.Equal(t, "inst_b", f.device(t, "dev_1").ActiveInstanceID)

	f.backend.AssertNumberOfCalls(t, "ForwardInput", 1)

	records := f.repo.Inputs()
	require.Len(t, records, 3)
	assert.Equal(t, "inst_a", records[0].InstanceID)
	assert.Equal(t, models.BtnEnter, records[0].Button)
	assert.True(t, ts.Equal(records[0].EventTimestamp))
	assert.False(t, records[0].ReceivedAt.IsZero())
}

func TestSubmitInput_ForwardFailureNotSurfaced(t *testing.T) {
	f := newFixture(t, nil)
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a")
	f.setActive(t, "dev_1", "inst_a")
	f.backend.On("ForwardInput", mock.Anything, "inst_a", mock.Anything).
		Return(errors.New(errors.ErrBackendUnavailable, "Connection error"))

	err := f.orch.SubmitInput(context.Background(), "dev_1", models.InputEvent{Button: models.BtnOne, EventType: models.EventPress, Timestamp: time.Now()})
	assert.NoError(t, err)
	f.orch.Wait()
}

func TestSubmitInput_RevokedDevice(t *testing.T) {
	f := newFixture(t, nil)
	f.addDevice(t, "dev_1", models.AuthRevoked)

	err := f.orch.SubmitInput(context.Background(), "dev_1", models.InputEvent{Button: models.BtnOne, EventType: models.EventPress, Timestamp: time.Now()})
	assert.ErrorIs(t, err, errors.ErrForbidden)
	assert.Empty(t, f.repo.Inputs())
}

func TestSubmitFrame_UnknownInstance(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.SubmitFrame(context.Background(), "inst_missing", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetFrame_ScopedToDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addDevice(t, "dev_1", models.AuthAuthorized, "inst_a", "inst_b")
	f.setActive(t, "dev_1", "inst_a")
	f.addDevice(t, "dev_2", models.AuthAuthorized, "inst_c")
	f.setActive(t, "dev_2", "inst_c")

	frameA, err := f.orch.SubmitFrame(ctx, "inst_a", []byte("frame-a"))
	require.NoError(t, err)
	frameB, err := f.orch.SubmitFrame(ctx, "inst_b", []byte("frame-b"))
	require.NoError(t, err)

	got, err := f.orch.GetFrame(ctx, "dev_1", frameA.FrameID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("frame-a"), got.Data)

	// assigned but not active
	got, err = f.orch.GetFrame(ctx, "dev_1", frameB.FrameID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = f.orch.GetFrame(ctx, "dev_2", frameA.FrameID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.orch.GetFrame(ctx, "dev_1", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNotify_RequestsFrame(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.On("RequestFrameSend", mock.Anything, "inst_a").
		Return(&models.BackendFrameSendResponse{Status: "sent"}, nil)

	require.NoError(t, f.orch.Notify(context.Background(), "inst_a"))
	f.orch.Wait()
	f.backend.AssertNumberOfCalls(t, "RequestFrameSend", 1)

	assert.ErrorIs(t, f.orch.Notify(context.Background(), "inst_missing"), errors.ErrNotFound)
}

func TestFrameSyncScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _, err := f.repo.StoreFrame(ctx, &models.Frame{
		FrameID: "f-local", InstanceID: "inst_a", Hash: "abc123", Data: []byte("png"), CreatedAt: time.Now(),
	}, 10)
	require.NoError(t, err)

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(&models.BackendFrameMetadata{InstanceID: "inst_a", HasFrame: true, FrameHash: "abc123"}, nil).Once()

	res, err := f.orch.CheckSync(ctx, "inst_a")
	require.NoError(t, err)
	assert.True(t, res.InSync)
	assert.Empty(t, res.ActionTaken)
	assert.Equal(t, "abc123", res.LocalFrameHash)
	assert.Equal(t, "inst_a", res.InstanceName)

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").
		Return(&models.BackendFrameMetadata{InstanceID: "inst_a", HasFrame: true, FrameHash: "def456"}, nil)
	f.backend.On("RequestFrameSend", mock.Anything, "inst_a").
		Return(&models.BackendFrameSendResponse{Status: "sent", FrameID: "b-7"}, nil).Once()

	res, err = f.orch.CheckSync(ctx, "inst_a")
	require.NoError(t, err)
	assert.False(t, res.InSync)
	assert.Equal(t, "def456", res.BackendFrameHash)

	res, err = f.orch.ForceSync(ctx, "inst_a")
	require.NoError(t, err)
	assert.False(t, res.InSync)
	assert.Equal(t, "Requested frame from backend: status=sent, frame_id=b-7", res.ActionTaken)
	f.backend.AssertNumberOfCalls(t, "RequestFrameSend", 1)
}

func TestForceSync_Outcomes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.backend.On("FrameMetadata", mock.Anything, "inst_a").Return(noFrame("inst_a"), nil)
	res, err := f.orch.ForceSync(ctx, "inst_a")
	require.NoError(t, err)
	assert.True(t, res.InSync)
	assert.Equal(t, "No frames exist on either side", res.ActionTaken)

	f.backend.On("FrameMetadata", mock.Anything, "inst_b").
		Return(nil, errors.New(errors.ErrBackendProtocol, "backend returned status 500"))
	res, err = f.orch.ForceSync(ctx, "inst_b")
	require.NoError(t, err)
	assert.False(t, res.InSync)
	assert.Equal(t, "Failed to get backend frame status: backend returned status 500", res.Error)

	_, _, err = f.repo.StoreFrame(ctx, &models.Frame{FrameID: "f-c", InstanceID: "inst_c", Hash: "abc123", CreatedAt: time.Now()}, 10)
	require.NoError(t, err)
	f.backend.On("FrameMetadata", mock.Anything, "inst_c").Return(noFrame("inst_c"), nil)
	f.backend.On("RequestFrameSend", mock.Anything, "inst_c").
		Return(nil, errors.New(errors.ErrBackendProtocol, "Instance not found on backend"))
	res, err = f.orch.ForceSync(ctx, "inst_c")
	require.NoError(t, err)
	assert.Equal(t, "Failed to request frame from backend: Instance not found on backend", res.Error)
	assert.Empty(t, res.ActionTaken)
}
