package registry

import (
	"context"
	stderrors "errors"
	"time"

	"screen-service/internal/config"
	"screen-service/internal/database"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// CreateType registers a backend type
func (r *InstanceRegistry) CreateType(ctx context.Context, req models.BackendTypeCreate) (*models.BackendType, error) {
	now := time.Now().UTC()
	bt := &models.BackendType{
		TypeID:      req.TypeID,
		Name:        req.Name,
		Description: req.Description,
		BaseURL:     req.BaseURL,
		AuthToken:   req.AuthToken,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	bt.DefaultDisplay = mergeDisplay(nil, req.DefaultWidth, req.DefaultHeight, req.DefaultBitDepth)

	if err := r.repo.CreateBackendType(ctx, bt); err != nil {
		if stderrors.Is(err, database.ErrDuplicate) {
			return nil, errors.Newf(errors.ErrConflict, "Backend type '%s' already exists", req.TypeID)
		}
		r.logger.Error("Failed to create backend type", zap.String("type_id", req.TypeID), zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	r.logger.Info("Backend type created", zap.String("type_id", bt.TypeID), zap.String("base_url", bt.BaseURL))
	return bt, nil
}

// GetType returns a backend type or NOT_FOUND. Lookups are served from the
// cache when possible.
func (r *InstanceRegistry) GetType(ctx context.Context, typeID string) (*models.BackendType, error) {
	bt, err := r.cache.GetBackendType(ctx, typeID)
	if err != nil {
		r.logger.Warn("Backend type cache read failed", zap.String("type_id", typeID), zap.Error(err))
	}
	if bt != nil {
		return bt, nil
	}

	bt, err = r.repo.GetBackendType(ctx, typeID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if bt == nil {
		return nil, errors.Newf(errors.ErrNotFound, "Backend type '%s' not found", typeID)
	}

	if err := r.cache.SetBackendType(ctx, bt, r.typeTTL); err != nil {
		r.logger.Warn("Backend type cache write failed", zap.String("type_id", typeID), zap.Error(err))
	}
	return bt, nil
}

// ListTypes returns backend types, optionally only the active ones
func (r *InstanceRegistry) ListTypes(ctx context.Context, activeOnly bool) ([]*models.BackendType, error) {
	types, err := r.repo.ListBackendTypes(ctx, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return types, nil
}

// UpdateType applies a partial update
func (r *InstanceRegistry) UpdateType(ctx context.Context, typeID string, req models.BackendTypeUpdate) (*models.BackendType, error) {
	bt, err := r.repo.UpdateBackendType(ctx, typeID, func(bt *models.BackendType) error {
		if req.Name != nil {
			bt.Name = *req.Name
		}
		if req.Description != nil {
			bt.Description = *req.Description
		}
		if req.BaseURL != nil {
			bt.BaseURL = *req.BaseURL
		}
		if req.AuthToken != nil {
			bt.AuthToken = *req.AuthToken
		}
		if req.IsActive != nil {
			bt.IsActive = *req.IsActive
		}
		bt.DefaultDisplay = mergeDisplay(bt.DefaultDisplay, req.DefaultWidth, req.DefaultHeight, req.DefaultBitDepth)
		return nil
	})
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.Newf(errors.ErrNotFound, "Backend type '%s' not found", typeID)
		}
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	r.invalidateType(ctx, typeID)
	r.logger.Info("Backend type updated", zap.String("type_id", typeID))
	return bt, nil
}

// DeleteType removes a backend type. It fails with CONFLICT while any
// instance still uses it.
func (r *InstanceRegistry) DeleteType(ctx context.Context, typeID string) error {
	err := r.repo.DeleteBackendType(ctx, typeID)
	switch {
	case stderrors.Is(err, database.ErrNotFound):
		return errors.Newf(errors.ErrNotFound, "Backend type '%s' not found", typeID)
	case stderrors.Is(err, database.ErrInUse):
		return errors.Newf(errors.ErrConflict, "Cannot delete backend type '%s': instances are using it", typeID)
	case err != nil:
		return errors.Wrap(err, errors.ErrInternalServer)
	}

	r.invalidateType(ctx, typeID)
	r.logger.Info("Backend type deleted", zap.String("type_id", typeID))
	return nil
}

// SeedTypes creates or refreshes backend types from the seed file
func (r *InstanceRegistry) SeedTypes(ctx context.Context, seeds []config.BackendSeed) error {
	for _, s := range seeds {
		var w, h, b *int
		if s.Display != nil {
			w, h, b = &s.Display.Width, &s.Display.Height, &s.Display.BitDepth
		}

		existing, err := r.repo.GetBackendType(ctx, s.TypeID)
		if err != nil {
			return errors.Wrap(err, errors.ErrInternalServer)
		}
		if existing == nil {
			_, err = r.CreateType(ctx, models.BackendTypeCreate{
				TypeID:          s.TypeID,
				Name:            s.Name,
				Description:     s.Description,
				BaseURL:         s.BaseURL,
				AuthToken:       s.AuthToken,
				DefaultWidth:    w,
				DefaultHeight:   h,
				DefaultBitDepth: b,
			})
			if err != nil {
				return err
			}
			if !s.Inactive {
				continue
			}
		}

		active := !s.Inactive
		_, err = r.UpdateType(ctx, s.TypeID, models.BackendTypeUpdate{
			Name:            &s.Name,
			Description:     &s.Description,
			BaseURL:         &s.BaseURL,
			AuthToken:       &s.AuthToken,
			DefaultWidth:    w,
			DefaultHeight:   h,
			DefaultBitDepth: b,
			IsActive:        &active,
		})
		if err != nil {
			return err
		}
	}

	r.logger.Info("Backend types seeded", zap.Int("count", len(seeds)))
	return nil
}

func (r *InstanceRegistry) invalidateType(ctx context.Context, typeID string) {
	if err := r.cache.DeleteBackendType(ctx, typeID); err != nil {
		r.logger.Warn("Backend type cache invalidation failed", zap.String("type_id", typeID), zap.Error(err))
	}
}

// mergeDisplay overlays the non-nil dimensions on base. It returns nil when
// there is nothing to describe.
func mergeDisplay(base *models.DisplayConfig, width, height, bitDepth *int) *models.DisplayConfig {
	if base == nil && width == nil && height == nil && bitDepth == nil {
		return nil
	}
	out := models.DisplayConfig{}
	if base != nil {
		out = *base
	}
	if width != nil {
		out.Width = *width
	}
	if height != nil {
		out.Height = *height
	}
	if bitDepth != nil {
		out.BitDepth = *bitDepth
	}
	return &out
}
