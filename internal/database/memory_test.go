package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"screen-service/internal/database"
	"screen-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDevice(t *testing.T, repo *database.MemoryRepository, id, hw, active string) {
	t.Helper()
	require.NoError(t, repo.CreateDevice(context.Background(), &models.Device{
		DeviceID:   id,
		HardwareID: hw,
		AuthStatus: models.AuthAuthorized,
		CreatedAt:  time.Now().UTC(),
	}))
	if active != "" {
		_, err := repo.UpdateDevice(context.Background(), id, func(d *models.Device) error {
			d.ActiveInstanceID = active
			return nil
		})
		require.NoError(t, err)
	}
}

func frame(id, instanceID, hash string) *models.Frame {
	return &models.Frame{FrameID: id, InstanceID: instanceID, Hash: hash, Data: []byte(hash), CreatedAt: time.Now().UTC()}
}

func TestMemory_CreateDeviceDuplicate(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()

	seedDevice(t, repo, "dev_1", "esp32-1", "")
	err := repo.CreateDevice(ctx, &models.Device{DeviceID: "dev_2", HardwareID: "esp32-1"})
	assert.ErrorIs(t, err, database.ErrDuplicate)

	d, err := repo.GetDeviceByHardwareID(ctx, "esp32-1")
	require.NoError(t, err)
	assert.Equal(t, "dev_1", d.DeviceID)

	missing, err := repo.GetDevice(ctx, "dev_x")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_UpdateDeviceIsolation(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()
	seedDevice(t, repo, "dev_1", "hw", "")

	d, err := repo.GetDevice(ctx, "dev_1")
	require.NoError(t, err)
	d.AuthStatus = models.AuthRevoked

	stored, err := repo.GetDevice(ctx, "dev_1")
	require.NoError(t, err)
	assert.Equal(t, models.AuthAuthorized, stored.AuthStatus)

	abort := fmt.Errorf("abort")
	_, err = repo.UpdateDevice(ctx, "dev_1", func(d *models.Device) error {
		d.AuthStatus = models.AuthRejected
		return abort
	})
	assert.ErrorIs(t, err, abort)
	stored, _ = repo.GetDevice(ctx, "dev_1")
	assert.Equal(t, models.AuthAuthorized, stored.AuthStatus)

	_, err = repo.UpdateDevice(ctx, "dev_missing", func(*models.Device) error { return nil })
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestMemory_StoreFrameFanOutAndDedupe(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()
	seedDevice(t, repo, "dev_a", "hw-a", "inst_1")
	seedDevice(t, repo, "dev_b", "hw-b", "inst_1")
	seedDevice(t, repo, "dev_c", "hw-c", "inst_2")

	stored, created, err := repo.StoreFrame(ctx, frame("f1", "inst_1", "h1"), 10)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "f1", stored.FrameID)

	for _, id := range []string{"dev_a", "dev_b"} {
		d, _ := repo.GetDevice(ctx, id)
		assert.Equal(t, "f1", d.CurrentFrameID, id)
	}
	other, _ := repo.GetDevice(ctx, "dev_c")
	assert.Empty(t, other.CurrentFrameID)

	// Same bytes again: no new row, the existing frame is returned.
	stored, created, err = repo.StoreFrame(ctx, frame("f2", "inst_1", "h1"), 10)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "f1", stored.FrameID)
	missing, _ := repo.GetFrame(ctx, "f2")
	assert.Nil(t, missing)

	// An older hash reappearing is a new frame.
	_, _, err = repo.StoreFrame(ctx, frame("f3", "inst_1", "h2"), 10)
	require.NoError(t, err)
	_, created, err = repo.StoreFrame(ctx, frame("f4", "inst_1", "h1"), 10)
	require.NoError(t, err)
	assert.True(t, created)

	latest, err := repo.LatestFrame(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, "f4", latest.FrameID)

	byHash, err := repo.FindFrameByHash(ctx, "inst_1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "f4", byHash.FrameID)
}

func TestMemory_StoreFrameRetention(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()
	seedDevice(t, repo, "dev_pinned", "hw-p", "inst_1")

	_, _, err := repo.StoreFrame(ctx, frame("f0", "inst_1", "h0"), 2)
	require.NoError(t, err)

	// The device moves away while still pointing at f0.
	_, err = repo.UpdateDevice(ctx, "dev_pinned", func(d *models.Device) error {
		d.ActiveInstanceID = ""
		return nil
	})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, _, err := repo.StoreFrame(ctx, frame(fmt.Sprintf("f%d", i), "inst_1", fmt.Sprintf("h%d", i)), 2)
		require.NoError(t, err)
	}

	for id, want := range map[string]bool{"f0": true, "f1": false, "f2": false, "f3": true, "f4": true} {
		f, err := repo.GetFrame(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, f != nil, id)
	}
}

func TestMemory_DeleteInstanceCascades(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateBackendType(ctx, &models.BackendType{TypeID: "chess", Name: "Chess", IsActive: true}))
	require.NoError(t, repo.CreateInstance(ctx, &models.Instance{InstanceID: "inst_1", BackendTypeID: "chess"}))
	seedDevice(t, repo, "dev_1", "hw", "inst_1")
	_, err := repo.AddAssignment(ctx, &models.Assignment{DeviceID: "dev_1", InstanceID: "inst_1"})
	require.NoError(t, err)
	_, _, err = repo.StoreFrame(ctx, frame("f1", "inst_1", "h1"), 10)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteBackendType(ctx, "chess"), database.ErrInUse)

	require.NoError(t, repo.DeleteInstance(ctx, "inst_1"))
	assert.ErrorIs(t, repo.DeleteInstance(ctx, "inst_1"), database.ErrNotFound)

	d, _ := repo.GetDevice(ctx, "dev_1")
	assert.Empty(t, d.ActiveInstanceID)
	list, _ := repo.ListAssignments(ctx, "dev_1")
	assert.Empty(t, list)
	f, _ := repo.GetFrame(ctx, "f1")
	require.NotNil(t, f)
	assert.Empty(t, f.InstanceID)

	assert.NoError(t, repo.DeleteBackendType(ctx, "chess"))
}

func TestMemory_AssignmentsOrdered(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"inst_c", "inst_a", "inst_b"} {
		added, err := repo.AddAssignment(ctx, &models.Assignment{
			DeviceID: "dev_1", InstanceID: id, Position: []int{2, 0, 1}[i], CreatedAt: now,
		})
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := repo.AddAssignment(ctx, &models.Assignment{DeviceID: "dev_1", InstanceID: "inst_a"})
	require.NoError(t, err)
	assert.False(t, added)

	list, err := repo.ListAssignments(ctx, "dev_1")
	require.NoError(t, err)
	var ids []string
	for _, a := range list {
		ids = append(ids, a.InstanceID)
	}
	assert.Equal(t, []string{"inst_a", "inst_b", "inst_c"}, ids)

	removed, err := repo.RemoveAssignment(ctx, "dev_1", "inst_b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveAssignment(ctx, "dev_1", "inst_b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemory_Stats(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()

	seedDevice(t, repo, "dev_1", "hw-1", "")
	require.NoError(t, repo.CreateDevice(ctx, &models.Device{DeviceID: "dev_2", HardwareID: "hw-2", AuthStatus: models.AuthPending}))
	require.NoError(t, repo.CreateBackendType(ctx, &models.BackendType{TypeID: "t", IsActive: true}))
	require.NoError(t, repo.CreateInstance(ctx, &models.Instance{InstanceID: "inst_1", Initialized: true, Ready: true}))
	require.NoError(t, repo.CreateInstance(ctx, &models.Instance{InstanceID: "inst_2"}))

	s, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &models.SystemStats{
		Devices:               2,
		PendingDevices:        1,
		Instances:             2,
		ReadyInstances:        1,
		PendingInitialization: 1,
		BackendTypes:          1,
	}, s)
}
