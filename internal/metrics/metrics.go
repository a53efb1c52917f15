// Package metrics exposes Prometheus collectors for the job crawler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcrawler_fetches_total",
			Help: "Total number of fetch attempts, labeled by result.",
		},
		[]string{"result"},
	)

	fetchAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobcrawler_fetch_attempts",
			Help:    "Attempts needed per logical fetch, including retries.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	gateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobcrawler_rate_limit_wait_seconds",
			Help:    "Histogram of rate limit gate wait durations.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcrawler_items_total",
			Help: "Total number of listing items processed, labeled by status.",
		},
		[]string{"status"},
	)

	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcrawler_cycles_total",
			Help: "Total number of completed crawl cycles, labeled by stop reason.",
		},
		[]string{"stop_reason"},
	)

	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobcrawler_cycle_duration_seconds",
			Help:    "Histogram of crawl cycle durations.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		},
	)

	pagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobcrawler_listing_pages_total",
			Help: "Total number of listing pages scanned.",
		},
	)

	ledgerSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobcrawler_ledger_ids",
			Help: "Number of item ids recorded in the dedup ledger.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobcrawler_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt by result ("success" or a failure kind).
func ObserveFetch(result string) {
	fetchesTotal.WithLabelValues(result).Inc()
}

// ObserveAttempts records how many attempts a logical fetch needed.
func ObserveAttempts(n int) {
	fetchAttempts.Observe(float64(n))
}

// ObserveGateWait records the time spent blocked on the rate-limit gate.
func ObserveGateWait(d time.Duration) {
	if d < time.Millisecond {
		return
	}
	gateWaitSeconds.Observe(d.Seconds())
}

// ObserveItem counts one listing item by status (new, skipped, failed).
func ObserveItem(status string) {
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(stopReason string, pages int, duration time.Duration) {
	cyclesTotal.WithLabelValues(stopReason).Inc()
	pagesTotal.Add(float64(pages))
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetLedgerSize publishes the current ledger size.
func SetLedgerSize(n int) {
	ledgerSize.Set(float64(n))
}

// ObserveHTTPRequest counts one status server request.
func ObserveHTTPRequest(method string, code int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
