package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cenety/saaskit/pkg/billing"
)

const namespace = "saaskit"

// Metrics owns the billing and HTTP collectors. It implements
// billing.Observer.
type Metrics struct {
	gatherer prometheus.Gatherer

	syncs        *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	limitChecks  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ billing.Observer = (*Metrics)(nil)

// New registers all collectors on reg, which also serves Handler.
// Registering twice on the same registry panics.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		panic("metrics: registry cannot be nil")
	}

	m := &Metrics{
		gatherer: reg,
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "syncs_total",
			Help:      "Subscription syncs by provider, trigger and outcome.",
		}, []string{"provider", "trigger", "outcome"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sync_duration_seconds",
			Help:      "Duration of subscription syncs including provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "trigger"}),
		limitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "limit_checks_total",
			Help:      "Plan limit checks by resource and verdict.",
		}, []string{"resource", "verdict"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncs,
		m.syncDuration,
		m.limitChecks,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// SyncCompleted implements billing.Observer.
func (m *Metrics) SyncCompleted(provider billing.Provider, trigger, outcome string, d time.Duration) {
	p := string(provider)
	if p == "" {
		p = "none"
	}
	m.syncs.WithLabelValues(p, trigger, outcome).Inc()
	m.syncDuration.WithLabelValues(p, trigger).Observe(d.Seconds())
}

// LimitChecked implements billing.Observer.
func (m *Metrics) LimitChecked(resource billing.Resource, verdict string) {
	if !resource.Valid() {
		// keeps label cardinality bounded
		resource = "unknown"
	}
	m.limitChecks.WithLabelValues(string(resource), verdict).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per chi route pattern.
// Unmatched requests are grouped under "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
