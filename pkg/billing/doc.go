// Package billing reconciles subscription state between the local store and
// the payment providers (Stripe and Polar), resolves a user's effective plan
// and enforces per-plan resource limits.
//
// The package is organized around four components:
//
//   - Catalog maps Stripe price ids and Polar product ids to plans. It is
//     loaded once at startup from YAML or built from DefaultPlans.
//   - Resolver computes the effective plan from the user's cached
//     subscription columns. It never calls a provider and caches its answers
//     in a PlanCache (memory LRU or Redis).
//   - Synchronizer pulls live state from the providers on refresh, on
//     checkout return and on webhooks, and writes it through the Store.
//     Failed syncs leave the stored state untouched.
//   - Enforcer compares live usage with the plan limits. Its checks are
//     advisory and fail open.
//
// # Basic Usage
//
//	catalog, err := billing.LoadCatalogFile("plans.yaml")
//	if err != nil {
//	    return err
//	}
//
//	resolver := billing.NewResolver(store, catalog,
//	    billing.WithPlanCache(billing.NewRedisCache(rdb), billing.DefaultPlanCacheTTL),
//	)
//	sync := billing.NewSynchronizer(store, resolver,
//	    billing.WithProvider(stripeProvider),
//	    billing.WithProvider(polarProvider),
//	)
//	enforcer := billing.NewEnforcer(resolver, counter)
//
//	if res := enforcer.CheckLimit(ctx, userID, billing.ResourceCustomers); !res.Allowed {
//	    return res.Message
//	}
//
// # Error Handling
//
// Provider adapters return ErrProviderUnavailable for transport and API
// failures and the matching not-found sentinel for missing objects. Sync
// operations never return errors; SyncResult carries the cause in Err and a
// user-facing message built by FailureMessage.
package billing
