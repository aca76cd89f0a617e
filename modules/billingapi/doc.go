// Package billingapi exposes subscription resolution, synchronization and
// plan limits over HTTP.
//
// Routes:
//
//	GET  /billing/plans                    public plan catalog
//	GET  /billing/plan                     the caller's resolved plan
//	GET  /billing/plans/{key}/compare      differences to another plan and downgrade blockers
//	POST /billing/refresh                  pull subscription state from the providers
//	GET  /billing/checkout/return          apply a completed checkout (session_id or checkout_id)
//	GET  /billing/limits                   usage of every resource
//	GET  /billing/limits/{resource}        usage of one resource
//	POST /billing/portal                   customer portal link
//	POST /webhooks/stripe, /webhooks/polar signed provider notifications
//	GET  /admin/billing/users/{id}/plan    ADMIN only
//	POST /admin/billing/users/{id}/sync    ADMIN only
//
// Every /billing and /admin route except the catalog requires a session
// token from pkg/jwt. Sync endpoints answer with the SyncResult body and a
// status from SyncStatus.
package billingapi
