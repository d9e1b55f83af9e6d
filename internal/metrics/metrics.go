// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal         *prometheus.CounterVec
	scraperBytesTotal         *prometheus.CounterVec
	scraperFetchSeconds       *prometheus.HistogramVec
	scraperEntitiesMerged     prometheus.Counter
	scraperRobotsDeniedTotal  *prometheus.CounterVec
	scraperSlotWaitSeconds    *prometheus.HistogramVec
	scraperJobsTotal          *prometheus.CounterVec
	scraperDetailFetchesInFly prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of pages fetched, labeled by site, transport, and status.",
			},
			[]string{"site", "transport", "status"},
		)

		scraperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by transport.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"transport"},
		)

		scraperEntitiesMerged = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_entities_merged_total",
				Help: "Total candidate records merged into normalized entities.",
			},
		)

		scraperRobotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_robots_denied_total",
				Help: "URLs denied by a host's robots directives.",
			},
			[]string{"host"},
		)

		scraperSlotWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_slot_wait_seconds",
				Help:    "Histogram of per-host politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		scraperDetailFetchesInFly = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_detail_fetches_inflight",
				Help: "Detail page fetches currently in flight.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests served, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 5, 30},
			},
			[]string{"route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a completed fetch attempt.
func ObserveFetch(site, transport, status string, bytesFetched int, elapsed time.Duration) {
	if scraperPagesTotal == nil {
		return
	}
	sanitized := SanitizeSite(site)
	scraperPagesTotal.WithLabelValues(sanitized, transport, status).Inc()
	if bytesFetched > 0 {
		scraperBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	scraperFetchSeconds.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ObserveMerge counts one candidate record merged into an entity.
func ObserveMerge() {
	if scraperEntitiesMerged == nil {
		return
	}
	scraperEntitiesMerged.Inc()
}

// ObserveRobotsDenied counts a robots denial for the host.
func ObserveRobotsDenied(host string) {
	if scraperRobotsDeniedTotal == nil {
		return
	}
	scraperRobotsDeniedTotal.WithLabelValues(strings.ToLower(host)).Inc()
}

// ObserveSlotWait records the duration of a politeness wait.
func ObserveSlotWait(host string, waited time.Duration) {
	if scraperSlotWaitSeconds == nil {
		return
	}
	scraperSlotWaitSeconds.WithLabelValues(strings.ToLower(host)).Observe(waited.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if scraperJobsTotal == nil {
		return
	}
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// IncDetailInflight increments the in-flight detail fetch gauge.
func IncDetailInflight() {
	if scraperDetailFetchesInFly == nil {
		return
	}
	scraperDetailFetchesInFly.Inc()
}

// DecDetailInflight decrements the in-flight detail fetch gauge.
func DecDetailInflight() {
	if scraperDetailFetchesInFly == nil {
		return
	}
	scraperDetailFetchesInFly.Dec()
}

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}
