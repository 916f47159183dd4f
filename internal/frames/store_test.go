package frames_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"screen-service/internal/database"
	"screen-service/internal/frames"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodePNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: 255 - shade})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHash(t *testing.T) {
	// sha256("hello") = 2cf24dba5fb0a30e26e83b2ac5b9e29e...
	assert.Equal(t, "2cf24dba5fb0a30e", frames.Hash([]byte("hello")))
	assert.Len(t, frames.Hash([]byte{0x00}), frames.HashLength)
}

func TestPut_DecodesPNGAndPushes(t *testing.T) {
	repo := database.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateDevice(ctx, &models.Device{DeviceID: "dev_1", HardwareID: "hw", CreatedAt: time.Now()}))
	_, err := repo.UpdateDevice(ctx, "dev_1", func(d *models.Device) error {
		d.ActiveInstanceID = "inst_1"
		return nil
	})
	require.NoError(t, err)

	store := frames.NewStore(repo, 10, zap.NewNop())
	data := encodePNG(t, 800, 480, 10)

	f, created, err := store.Put(ctx, "inst_1", data)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 800, f.Width)
	assert.Equal(t, 480, f.Height)
	assert.Equal(t, frames.Hash(data), f.Hash)

	d, err := repo.GetDevice(ctx, "dev_1")
	require.NoError(t, err)
	assert.Equal(t, f.FrameID, d.CurrentFrameID)

	again, created, err := store.Put(ctx, "inst_1", data)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.FrameID, again.FrameID)

	latest, err := store.Latest(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, f.FrameID, latest.FrameID)

	byHash, err := store.FindByHash(ctx, "inst_1", f.Hash)
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, data, byHash.Data)

	none, err := store.FindByHash(ctx, "inst_1", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPut_NonPNGPayload(t *testing.T) {
	store := frames.NewStore(database.NewMemoryRepository(), 10, zap.NewNop())

	f, created, err := store.Put(context.Background(), "inst_1", []byte("raw framebuffer"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, f.Width)

	_, _, err = store.Put(context.Background(), "inst_1", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}
