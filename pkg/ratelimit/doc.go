// Package ratelimit throttles HTTP endpoints with per-key token buckets from
// golang.org/x/time/rate.
//
// The billing refresh endpoint triggers provider API calls, so it is limited
// per user:
//
//	lim, err := ratelimit.New(ratelimit.Config{Rate: 6, Burst: 3})
//	r.With(ratelimit.Middleware(lim, func(r *http.Request) string {
//		return jwt.UserIDFromContext(r.Context()).String()
//	})).Post("/billing/refresh", h.Refresh)
//
// Buckets live in process memory, so each replica enforces its own budget.
package ratelimit
