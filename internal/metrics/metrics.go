// Package metrics exposes Prometheus collectors for the crawl and import stages.
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
	crawlPagesTotal             *prometheus.CounterVec
	crawlBytesTotal             *prometheus.CounterVec
	crawlFetchRetriesTotal      prometheus.Counter
	crawlRateLimitDelaySeconds  *prometheus.HistogramVec
	importRecordsTotal          *prometheus.CounterVec
	importRecordDurationSeconds prometheus.Histogram
	resolverReferencesTotal     *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total number of pages fetched, labeled by page kind and status.",
			},
			[]string{"kind", "status"},
		)

		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_fetch_retries_total",
				Help: "Total number of fetch retries after transient failures.",
			},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_rate_limit_delay_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		importRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_records_total",
				Help: "Total number of imported records, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		importRecordDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "import_record_duration_seconds",
				Help:    "Histogram of per-record import transaction latencies.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
		)

		resolverReferencesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_references_total",
				Help: "Reference resolutions, labeled by family and action (created, reused).",
			},
			[]string{"family", "action"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts one fetched page.
func ObservePage(rawURL, kind, status string, bytesFetched int) {
	Init()
	crawlPagesTotal.WithLabelValues(kind, status).Inc()
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry counts one retried fetch attempt.
func ObserveFetchRetry() {
	Init()
	crawlFetchRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveImportRecord records the outcome and latency of one record import.
func ObserveImportRecord(outcome string, duration time.Duration) {
	Init()
	importRecordsTotal.WithLabelValues(outcome).Inc()
	importRecordDurationSeconds.Observe(duration.Seconds())
}

// ObserveReference counts a reference resolution.
func ObserveReference(family string, created bool) {
	Init()
	action := "reused"
	if created {
		action = "created"
	}
	resolverReferencesTotal.WithLabelValues(family, action).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
