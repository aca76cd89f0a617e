// Package metrics exposes Prometheus collectors for billing syncs, limit
// checks and HTTP traffic.
//
// A *Metrics is passed to the billing synchronizer and enforcer as their
// Observer, wraps the router with Middleware and serves /metrics:
//
//	m := metrics.New(prometheus.NewRegistry())
//	r.Use(m.Middleware)
//	r.Handle("/metrics", m.Handler())
package metrics
