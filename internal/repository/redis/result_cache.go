package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"athena/internal/adapters/redis"
	"athena/internal/domain/task"
	"athena/pkg/errors"
)

const resultKeyPrefix = "result:"

// ResultCache stores synthesized results in Redis under a TTL. The
// cache is owned by the engine; Purge drops every entry during
// maintenance regardless of remaining TTL.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a result cache with the given TTL
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Store caches the task's result
func (c *ResultCache) Store(ctx context.Context, taskID uuid.UUID, result *task.Result) error {
	return c.client.Set(ctx, resultKeyPrefix+taskID.String(), result, c.ttl)
}

// Fetch returns the cached result, or ErrNotFound after eviction
func (c *ResultCache) Fetch(ctx context.Context, taskID uuid.UUID) (*task.Result, error) {
	var result task.Result
	if err := c.client.Get(ctx, resultKeyPrefix+taskID.String(), &result); err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errors.Wrapf(errors.ErrNotFound, "result for task %s", taskID)
		}
		return nil, err
	}
	return &result, nil
}

// Purge deletes every cached result
func (c *ResultCache) Purge(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, resultKeyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Delete(ctx, keys...)
}
