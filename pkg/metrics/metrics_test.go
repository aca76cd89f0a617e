package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/metrics"
)

func TestMetrics_Observer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SyncCompleted(billing.ProviderStripe, "webhook", "success", 120*time.Millisecond)
	m.SyncCompleted(billing.ProviderStripe, "webhook", "success", 80*time.Millisecond)
	m.SyncCompleted("", "refresh", "failed", time.Millisecond)
	m.LimitChecked(billing.ResourceCustomers, billing.VerdictBlocked)
	m.LimitChecked(billing.Resource("bogus"), billing.VerdictInvalid)

	expected := `
# HELP saaskit_billing_syncs_total Subscription syncs by provider, trigger and outcome.
# TYPE saaskit_billing_syncs_total counter
saaskit_billing_syncs_total{outcome="failed",provider="none",trigger="refresh"} 1
saaskit_billing_syncs_total{outcome="success",provider="stripe",trigger="webhook"} 2
# HELP saaskit_billing_limit_checks_total Plan limit checks by resource and verdict.
# TYPE saaskit_billing_limit_checks_total counter
saaskit_billing_limit_checks_total{resource="customers",verdict="blocked"} 1
saaskit_billing_limit_checks_total{resource="unknown",verdict="invalid"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"saaskit_billing_syncs_total", "saaskit_billing_limit_checks_total"))
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/billing/limits/{resource}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Handle("/metrics", m.Handler())

	for _, path := range []string{"/billing/limits/customers", "/billing/limits/documents", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP saaskit_http_requests_total HTTP requests by route pattern, method and status code.
# TYPE saaskit_http_requests_total counter
saaskit_http_requests_total{method="GET",route="/billing/limits/{resource}",status="202"} 2
saaskit_http_requests_total{method="GET",route="unmatched",status="404"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "saaskit_http_requests_total"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "saaskit_http_request_duration_seconds")
}

func TestNew_PanicsOnNilRegistry(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { metrics.New(nil) })
}
