// Package cache keeps the latest device status in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// ErrMiss is returned when a device is not cached
var ErrMiss = errors.New("cache miss")

// DeviceCache stores device status snapshots keyed by base id
type DeviceCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDeviceCache creates a cache backed by a new Redis client
func NewDeviceCache(cfg config.RedisConfig) *DeviceCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return NewDeviceCacheWithClient(rdb, cfg.KeyPrefix, cfg.StatusTTL)
}

// NewDeviceCacheWithClient wraps an existing client
func NewDeviceCacheWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *DeviceCache {
	if prefix == "" {
		prefix = "keypad"
	}
	return &DeviceCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key for a base
func (c *DeviceCache) Key(baseID int) string {
	return c.prefix + ":device:" + strconv.Itoa(baseID)
}

// Ping checks the connection
func (c *DeviceCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetDevice stores the device snapshot
func (c *DeviceCache) SetDevice(ctx context.Context, device *models.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("encode device %d: %w", device.BaseID, err)
	}
	if err := c.rdb.Set(ctx, c.Key(device.BaseID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache device %d: %w", device.BaseID, err)
	}
	return nil
}

// GetDevice returns the cached snapshot or ErrMiss
func (c *DeviceCache) GetDevice(ctx context.Context, baseID int) (*models.Device, error) {
	data, err := c.rdb.Get(ctx, c.Key(baseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("read cached device %d: %w", baseID, err)
	}

	var device models.Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("decode cached device %d: %w", baseID, err)
	}
	return &device, nil
}

// DeleteDevice evicts a base
func (c *DeviceCache) DeleteDevice(ctx context.Context, baseID int) error {
	return c.rdb.Del(ctx, c.Key(baseID)).Err()
}

// Close closes the Redis client
func (c *DeviceCache) Close() error {
	return c.rdb.Close()
}
