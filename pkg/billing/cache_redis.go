package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares resolved plans between instances, so an invalidation
// after a sync is visible everywhere at once.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache panics on a nil client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (ResolvedPlan, bool) {
	raw, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		return ResolvedPlan{}, false
	}
	var plan ResolvedPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return ResolvedPlan{}, false
	}
	return plan, true
}

func (c *RedisCache) Set(ctx context.Context, userID uuid.UUID, plan ResolvedPlan, ttl time.Duration) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(userID), raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
