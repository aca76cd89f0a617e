package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cenety/saaskit/pkg/logger"
)

// ResolvedPlan is a user's effective plan as of the last successful sync.
type ResolvedPlan struct {
	Plan             Plan               `json:"plan"`
	Title            string             `json:"title"`
	IsPaid           bool               `json:"is_paid"`
	Interval         Interval           `json:"interval,omitempty"`
	Limits           map[Resource]int64 `json:"limits"`
	Provider         Provider           `json:"provider"`
	CustomerID       string             `json:"customer_id,omitempty"`
	SubscriptionID   string             `json:"subscription_id,omitempty"`
	PriceID          string             `json:"price_id,omitempty"`
	CurrentPeriodEnd time.Time          `json:"current_period_end,omitzero"`
	IsCanceled       bool               `json:"is_canceled"`
}

// Limit returns the plan limit for resource.
func (p ResolvedPlan) Limit(resource Resource) int64 {
	return p.Plan.Limit(resource)
}

// DefaultPlanCacheTTL bounds how stale a cached resolution may be.
const DefaultPlanCacheTTL = 10 * time.Second

// Resolver computes a user's effective plan from the cached subscription
// columns. It never calls a payment provider.
type Resolver struct {
	store   Store
	catalog *Catalog
	cache   PlanCache
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	loading map[uuid.UUID]*load
}

// load tracks in-flight store reads of one user. gen is bumped by
// Invalidate so a read that started earlier does not repopulate the cache.
type load struct {
	readers int
	gen     uint64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPlanCache enables caching of resolutions for up to ttl.
func WithPlanCache(c PlanCache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithResolverLogger sets the logger used for configuration mismatches
// and cache failures.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithResolverClock overrides the time source.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver panics on a nil store or catalog.
func NewResolver(store Store, catalog *Catalog, opts ...ResolverOption) *Resolver {
	if store == nil {
		panic("billing: store is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	r := &Resolver{
		store:   store,
		catalog: catalog,
		cache:   NoOpCache{},
		ttl:     DefaultPlanCacheTTL,
		now:     time.Now,
		log:     logger.Discard(),
		loading: make(map[uuid.UUID]*load),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog plans are resolved against.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// ResolvePlan returns the effective plan of userID.
// Users without subscription fields, or whose paid period has ended,
// resolve to the default plan. Unknown users yield ErrUserNotFound.
func (r *Resolver) ResolvePlan(ctx context.Context, userID uuid.UUID) (ResolvedPlan, error) {
	if plan, ok := r.cache.Get(ctx, userID); ok {
		return plan, nil
	}

	v, err, _ := r.group.Do(userID.String(), func() (any, error) {
		gen := r.beginLoad(userID)
		user, err := r.store.GetUser(ctx, userID)
		if err != nil {
			r.endLoad(userID, gen)
			if errors.Is(err, ErrUserNotFound) {
				return nil, err
			}
			return nil, errors.Join(ErrFailedToResolvePlan, err)
		}

		plan := r.Resolve(ctx, user)
		r.storeInCache(ctx, userID, plan, gen)
		return plan, nil
	})
	if err != nil {
		return ResolvedPlan{}, err
	}
	return v.(ResolvedPlan), nil
}

// Resolve computes the effective plan from an already loaded user.
// The user's selected provider is considered first.
func (r *Resolver) Resolve(ctx context.Context, user User) ResolvedPlan {
	now := r.now()

	for _, p := range user.providerOrder() {
		f := user.Fields(p)
		if f.PriceID == "" || !f.CurrentPeriodEnd.After(now) {
			continue
		}
		plan, interval, ok := r.catalog.Lookup(f.PriceID)
		if !ok {
			// Configuration mismatch: fall through to the free plan.
			r.log.ErrorContext(ctx, "price id not found in plan catalog",
				logger.UserID(user.ID),
				logger.Provider(string(p)),
				slog.String("price_id", f.PriceID),
			)
			continue
		}
		return ResolvedPlan{
			Plan:             plan,
			Title:            plan.Title,
			IsPaid:           true,
			Interval:         interval,
			Limits:           plan.Limits,
			Provider:         p,
			CustomerID:       f.CustomerID,
			SubscriptionID:   f.SubscriptionID,
			PriceID:          f.PriceID,
			CurrentPeriodEnd: f.CurrentPeriodEnd,
			IsCanceled:       f.CancelAtPeriodEnd || f.Status == StatusCanceled,
		}
	}

	free := r.catalog.Default()
	provider := user.PaymentProvider
	if provider == "" {
		provider = ProviderNone
	}
	return ResolvedPlan{
		Plan:       free,
		Title:      free.Title,
		Limits:     free.Limits,
		Provider:   provider,
		CustomerID: user.Fields(provider).CustomerID,
	}
}

// Invalidate drops the cached resolution of userID.
// Loads already in flight still answer their callers but are not cached.
func (r *Resolver) Invalidate(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	if l, ok := r.loading[userID]; ok {
		l.gen++
	}
	r.mu.Unlock()

	r.group.Forget(userID.String())
	return r.cache.Delete(ctx, userID)
}

func (r *Resolver) beginLoad(userID uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loading[userID]
	if !ok {
		l = &load{}
		r.loading[userID] = l
	}
	l.readers++
	return l.gen
}

// endLoad reports whether no invalidation happened since beginLoad.
func (r *Resolver) endLoad(userID uuid.UUID, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.loading[userID]
	fresh := l.gen == gen
	if l.readers--; l.readers == 0 {
		delete(r.loading, userID)
	}
	return fresh
}

func (r *Resolver) stale(userID uuid.UUID, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading[userID].gen != gen
}

// storeInCache caches plan unless userID was invalidated while it loaded.
// An invalidation racing with Set is undone by deleting the entry again.
func (r *Resolver) storeInCache(ctx context.Context, userID uuid.UUID, plan ResolvedPlan, gen uint64) {
	ttl := r.cacheTTL(plan)
	if ttl <= 0 || r.stale(userID, gen) {
		r.endLoad(userID, gen)
		return
	}
	if err := r.cache.Set(ctx, userID, plan, ttl); err != nil {
		r.log.WarnContext(ctx, "failed to cache resolved plan",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
	if !r.endLoad(userID, gen) {
		if err := r.cache.Delete(ctx, userID); err != nil {
			r.log.WarnContext(ctx, "failed to drop stale plan",
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	}
}

// cacheTTL never lets a paid resolution outlive its billing period.
func (r *Resolver) cacheTTL(plan ResolvedPlan) time.Duration {
	ttl := r.ttl
	if plan.IsPaid {
		if left := plan.CurrentPeriodEnd.Sub(r.now()); left < ttl {
			ttl = left
		}
	}
	return ttl
}
