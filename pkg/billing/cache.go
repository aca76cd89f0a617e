package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cenety/saaskit/pkg/cache"
)

// CacheTag prefixes every cached plan resolution.
const CacheTag = "subscription-plan"

// PlanCache stores resolved plans per user.
type PlanCache interface {
	Get(ctx context.Context, userID uuid.UUID) (ResolvedPlan, bool)
	Set(ctx context.Context, userID uuid.UUID, plan ResolvedPlan, ttl time.Duration) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// NoOpCache disables caching.
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, uuid.UUID) (ResolvedPlan, bool) {
	return ResolvedPlan{}, false
}

func (NoOpCache) Set(context.Context, uuid.UUID, ResolvedPlan, time.Duration) error {
	return nil
}

func (NoOpCache) Delete(context.Context, uuid.UUID) error {
	return nil
}

// MemoryCache keeps resolved plans in a process-local LRU.
// Invalidations are not shared between instances; entries from other
// instances go stale for at most their TTL.
type MemoryCache struct {
	lru *cache.LRU[uuid.UUID, ResolvedPlan]
}

// NewMemoryCache creates a MemoryCache holding up to size users.
func NewMemoryCache(size int) *MemoryCache {
	return &MemoryCache{lru: cache.New[uuid.UUID, ResolvedPlan](size)}
}

func (c *MemoryCache) Get(_ context.Context, userID uuid.UUID) (ResolvedPlan, bool) {
	return c.lru.Get(userID)
}

func (c *MemoryCache) Set(_ context.Context, userID uuid.UUID, plan ResolvedPlan, ttl time.Duration) error {
	c.lru.SetWithTTL(userID, plan, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, userID uuid.UUID) error {
	c.lru.Delete(userID)
	return nil
}

func cacheKey(userID uuid.UUID) string {
	return CacheTag + ":" + userID.String()
}
