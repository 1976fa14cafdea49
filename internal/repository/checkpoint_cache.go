package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
)

// CheckpointCache keeps the authoritative recovery checkpoint in Redis.
type CheckpointCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCheckpointCache creates a CheckpointCache. Keys expire after ttl; zero keeps them forever.
func NewCheckpointCache(rdb *redis.Client, ttl time.Duration) *CheckpointCache {
	return &CheckpointCache{rdb: rdb, ttl: ttl}
}

// Load returns the stored checkpoint, or nil if there is none.
func (c *CheckpointCache) Load(ctx context.Context, examID uuid.UUID, candidateID int) ([]byte, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.CheckpointKey(examID.String(), candidateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save overwrites the stored checkpoint.
func (c *CheckpointCache) Save(ctx context.Context, examID uuid.UUID, candidateID int, data []byte) error {
	return c.rdb.Set(ctx, config.CacheKey.CheckpointKey(examID.String(), candidateID), data, c.ttl).Err()
}

// Delete removes the stored checkpoint.
func (c *CheckpointCache) Delete(ctx context.Context, examID uuid.UUID, candidateID int) error {
	return c.rdb.Del(ctx, config.CacheKey.CheckpointKey(examID.String(), candidateID)).Err()
}

// Each calls fn for every stored checkpoint key, scanning in pages.
// Iteration stops at the first error fn returns.
func (c *CheckpointCache) Each(ctx context.Context, fn func(key string) error) error {
	iter := c.rdb.Scan(ctx, 0, config.CacheKey.CheckpointPattern(), 200).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

// GetKey reads a checkpoint by its raw key.
func (c *CheckpointCache) GetKey(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

// DeleteKeys removes checkpoints by their raw keys in one pipeline.
func (c *CheckpointCache) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	_, err := pipe.Exec(ctx)
	return err
}
