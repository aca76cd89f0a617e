// Package cache provides a generic, thread-safe LRU cache with optional
// per-entry expiry.
//
// Entries are evicted when the cache exceeds its capacity (expired entries
// first, then the least recently used one) and dropped lazily when read
// after their TTL has passed.
//
//	plans := cache.New[uuid.UUID, billing.ResolvedPlan](10_000,
//		cache.WithTTL[uuid.UUID, billing.ResolvedPlan](10*time.Second),
//	)
//	plans.Set(userID, resolved)
//	if p, ok := plans.Get(userID); ok {
//		// use p
//	}
//
// SetWithTTL overrides the default expiry for a single entry, which lets
// callers bound an entry's lifetime by a domain deadline.
package cache
