package cache

import (
	"context"
	"time"

	"screen-service/internal/models"
)

// Noop is a Cache that always misses and never limits. It is used when no
// Redis URL is configured.
type Noop struct{}

func (Noop) Close() error { return nil }

func (Noop) CheckRateLimit(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return false, 0, nil
}

func (Noop) GetBackendType(context.Context, string) (*models.BackendType, error) { return nil, nil }

func (Noop) SetBackendType(context.Context, *models.BackendType, time.Duration) error { return nil }

func (Noop) DeleteBackendType(context.Context, string) error { return nil }

func (Noop) GetFrameMetadata(context.Context, string) (*models.BackendFrameMetadata, error) {
	return nil, nil
}

func (Noop) SetFrameMetadata(context.Context, *models.BackendFrameMetadata, time.Duration) error {
	return nil
}

func (Noop) DeleteFrameMetadata(context.Context, string) error { return nil }
