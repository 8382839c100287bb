package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window limiter shared across instances, backed by one
// sorted set per bucket and key
type Redis struct {
	rdb    *redis.Client
	prefix string
	limits map[string]Limit
}

// NewRedis creates a Redis-backed limiter
func NewRedis(rdb *redis.Client, prefix string, limits map[string]Limit) *Redis {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Redis{rdb: rdb, prefix: prefix + "ratelimit:", limits: limits}
}

// AllowNamed records the request and reports whether it fits in the window
func (r *Redis) AllowNamed(bucket, key string) (bool, error) {
	if bucket == "" || key == "" {
		return false, errMissingKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lim := lookup(r.limits, bucket)
	now := time.Now().UnixMilli()
	cutoff := now - lim.Window.Milliseconds()
	id := r.prefix + bucket + ":" + key
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, id, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, id, redis.Z{Score: float64(now), Member: member})
	count := pipe.ZCard(ctx, id)
	pipe.PExpire(ctx, id, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if count.Val() > int64(lim.Limit) {
		r.rdb.ZRem(ctx, id, member)
		return false, nil
	}
	return true, nil
}
