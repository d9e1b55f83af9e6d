package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bizharvest/bizharvest/internal/metrics"
)

func TestMetricsMiddlewareRecordsRequests(t *testing.T) {
	metrics.Init()

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/jobs/abc", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "http_requests_total")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 2)
}
