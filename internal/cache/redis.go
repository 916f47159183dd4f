package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"screen-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	backendTypePrefix   = "backend_type:"
	frameMetadataPrefix = "frame_meta:"
	rateLimitPrefix     = "rate_limit:"
)

// Cache is the shared cache used for rate limiting and for short-lived
// copies of backend state.
type Cache interface {
	Close() error

	// CheckRateLimit counts a hit for key and reports whether limit is
	// exceeded within window, plus the time left in the window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)

	GetBackendType(ctx context.Context, typeID string) (*models.BackendType, error)
	SetBackendType(ctx context.Context, bt *models.BackendType, ttl time.Duration) error
	DeleteBackendType(ctx context.Context, typeID string) error

	GetFrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error)
	SetFrameMetadata(ctx context.Context, meta *models.BackendFrameMetadata, ttl time.Duration) error
	DeleteFrameMetadata(ctx context.Context, instanceID string) error
}

// RedisCache handles Redis operations
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache connects to redisURL and pings it
func NewRedisCache(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisCacheFromClient(client, logger), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CheckRateLimit uses INCR with an expiry set on the first hit of a window.
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	k := rateLimitPrefix + key
	count, err := c.client.Incr(ctx, k).Result()
	if err != nil {
		c.logger.Error("Failed to increment rate limit counter", zap.String("key", key), zap.Error(err))
		return false, 0, err
	}

	if count == 1 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			c.logger.Error("Failed to set rate limit expiration", zap.Error(err))
		}
	}

	if count <= int64(limit) {
		return false, 0, nil
	}

	ttl, err := c.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return true, ttl, nil
}

// backendTypeEntry keeps the auth token, which models.BackendType hides
// from JSON.
type backendTypeEntry struct {
	models.BackendType
	AuthToken string `json:"auth_token"`
}

// GetBackendType returns nil, nil on a miss
func (c *RedisCache) GetBackendType(ctx context.Context, typeID string) (*models.BackendType, error) {
	var entry backendTypeEntry
	found, err := c.getJSON(ctx, backendTypePrefix+typeID, &entry)
	if err != nil || !found {
		return nil, err
	}
	bt := entry.BackendType
	bt.AuthToken = entry.AuthToken
	return &bt, nil
}

func (c *RedisCache) SetBackendType(ctx context.Context, bt *models.BackendType, ttl time.Duration) error {
	return c.setJSON(ctx, backendTypePrefix+bt.TypeID, backendTypeEntry{BackendType: *bt, AuthToken: bt.AuthToken}, ttl)
}

func (c *RedisCache) DeleteBackendType(ctx context.Context, typeID string) error {
	return c.del(ctx, backendTypePrefix+typeID)
}

// GetFrameMetadata returns nil, nil on a miss
func (c *RedisCache) GetFrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error) {
	var meta models.BackendFrameMetadata
	found, err := c.getJSON(ctx, frameMetadataPrefix+instanceID, &meta)
	if err != nil || !found {
		return nil, err
	}
	return &meta, nil
}

func (c *RedisCache) SetFrameMetadata(ctx context.Context, meta *models.BackendFrameMetadata, ttl time.Duration) error {
	return c.setJSON(ctx, frameMetadataPrefix+meta.InstanceID, meta, ttl)
}

func (c *RedisCache) DeleteFrameMetadata(ctx context.Context, instanceID string) error {
	return c.del(ctx, frameMetadataPrefix+instanceID)
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.logger.Error("Failed to read from cache", zap.String("key", key), zap.Error(err))
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Error("Failed to unmarshal cached value", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Error("Failed to write to cache", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisCache) del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Failed to delete from cache", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
