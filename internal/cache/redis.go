package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisDatasetCache keeps the latest dataset in Redis so every instance
// shares one view
type RedisDatasetCache struct {
	rdb *redis.Client
	key string
}

// NewRedisDatasetCache creates a cache under keyPrefix
func NewRedisDatasetCache(rdb *redis.Client, keyPrefix string) *RedisDatasetCache {
	if keyPrefix == "" {
		keyPrefix = "paygate:"
	}
	return &RedisDatasetCache{rdb: rdb, key: keyPrefix + "dataset:latest"}
}

// Get returns the cached dataset; ok is false on a miss
func (c *RedisDatasetCache) Get(ctx context.Context) (*models.SharedDataset, bool, error) {
	val, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var d models.SharedDataset
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// Put stores the dataset for ttl
func (c *RedisDatasetCache) Put(ctx context.Context, d *models.SharedDataset, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key, b, ttl).Err()
}

// Invalidate drops the cached dataset
func (c *RedisDatasetCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
