package mocks

import (
	"context"
	"time"

	"screen-service/internal/backend"
	"screen-service/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockBackendClient is a mock implementation of backend.Client
type MockBackendClient struct {
	mock.Mock
}

func (m *MockBackendClient) Init(ctx context.Context, instanceID string, display models.DisplayConfig, accessToken string) (*models.BackendInitResponse, error) {
	args := m.Called(ctx, instanceID, display, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendInitResponse), args.Error(1)
}

func (m *MockBackendClient) Delete(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

func (m *MockBackendClient) Status(ctx context.Context, instanceID string) (*models.BackendStatus, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendStatus), args.Error(1)
}

func (m *MockBackendClient) FrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendFrameMetadata), args.Error(1)
}

func (m *MockBackendClient) RequestFrameSend(ctx context.Context, instanceID string) (*models.BackendFrameSendResponse, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendFrameSendResponse), args.Error(1)
}

func (m *MockBackendClient) ForwardInput(ctx context.Context, instanceID string, event models.InputEvent) error {
	args := m.Called(ctx, instanceID, event)
	return args.Error(0)
}

func (m *MockBackendClient) TriggerRender(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}

// MockFactory hands out the same client for every backend type
type MockFactory struct {
	Client backend.Client
}

func (f *MockFactory) ForType(*models.BackendType) backend.Client {
	return f.Client
}

// MockCache is a mock implementation of cache.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Get(1).(time.Duration), args.Error(2)
}

func (m *MockCache) GetBackendType(ctx context.Context, typeID string) (*models.BackendType, error) {
	args := m.Called(ctx, typeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendType), args.Error(1)
}

func (m *MockCache) SetBackendType(ctx context.Context, bt *models.BackendType, ttl time.Duration) error {
	args := m.Called(ctx, bt, ttl)
	return args.Error(0)
}

func (m *MockCache) DeleteBackendType(ctx context.Context, typeID string) error {
	args := m.Called(ctx, typeID)
	return args.Error(0)
}

func (m *MockCache) GetFrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BackendFrameMetadata), args.Error(1)
}

func (m *MockCache) SetFrameMetadata(ctx context.Context, meta *models.BackendFrameMetadata, ttl time.Duration) error {
	args := m.Called(ctx, meta, ttl)
	return args.Error(0)
}

func (m *MockCache) DeleteFrameMetadata(ctx context.Context, instanceID string) error {
	args := m.Called(ctx, instanceID)
	return args.Error(0)
}
