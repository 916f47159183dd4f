// Package frames stores rendered frames and answers which frame is current
// for an instance.
package frames

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/png"
	"time"

	"screen-service/internal/database"
	"screen-service/internal/metrics"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
// The hash identifies content for diffing only.
const HashLength = 16

// Hash returns the short content digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Store is the frame cache
type Store struct {
	repo   database.Repository
	retain int
	logger *zap.Logger
}

// NewStore creates a frame store keeping the newest retain frames per instance
func NewStore(repo database.Repository, retain int, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		retain: retain,
		logger: logger,
	}
}

// Put stores data as the instance's current frame and points every device
// showing the instance at it. If the instance's latest frame has the same
// content, that frame is returned and created is false.
func (s *Store) Put(ctx context.Context, instanceID string, data []byte) (*models.Frame, bool, error) {
	if len(data) == 0 {
		return nil, false, errors.New(errors.ErrInvalidRequest, "Frame payload is empty")
	}

	f := &models.Frame{
		FrameID:    uuid.NewString(),
		InstanceID: instanceID,
		Data:       data,
		Hash:       Hash(data),
		CreatedAt:  time.Now().UTC(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width = cfg.Width
		f.Height = cfg.Height
	}

	stored, created, err := s.repo.StoreFrame(ctx, f, s.retain)
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrInternalServer)
	}
	metrics.FrameStored(created)

	s.logger.Info("Frame stored",
		zap.String("instance_id", instanceID),
		zap.String("frame_id", stored.FrameID),
		zap.String("hash", stored.Hash),
		zap.Bool("created", created),
	)
	return stored, created, nil
}

// Get returns a frame or nil
func (s *Store) Get(ctx context.Context, frameID string) (*models.Frame, error) {
	return s.repo.GetFrame(ctx, frameID)
}

// Latest returns the newest frame of an instance or nil
func (s *Store) Latest(ctx context.Context, instanceID string) (*models.Frame, error) {
	return s.repo.LatestFrame(ctx, instanceID)
}

// FindByHash returns the newest frame of an instance with the given hash or nil
func (s *Store) FindByHash(ctx context.Context, instanceID, hash string) (*models.Frame, error) {
	if hash == "" {
		return nil, nil
	}
	return s.repo.FindFrameByHash(ctx, instanceID, hash)
}
