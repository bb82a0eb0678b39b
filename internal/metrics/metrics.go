// Package metrics exposes Prometheus collectors for the scholarship pipeline.
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
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	attachmentsTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	refreshDurationSeconds     prometheus.Histogram
	indexChunksTotal           prometheus.Counter
	indexTasksTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	routerAnswersTotal         *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_requests_total",
				Help: "Upstream fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_bytes_total",
				Help: "Bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)
		attachmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_attachments_total",
				Help: "Attachments seen during crawls, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_records_total",
				Help: "Eligibility record writes, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		refreshDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scholar_refresh_duration_seconds",
				Help:    "Wall time of crawl refreshes.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)
		indexChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scholar_index_chunks_total",
				Help: "Chunks appended to the vector index.",
			},
		)
		indexTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_index_tasks_total",
				Help: "Index task attempts, labeled by status.",
			},
			[]string{"status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scholar_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		routerAnswersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_router_answers_total",
				Help: "Answers produced by the retrieval router, labeled by source.",
			},
			[]string{"source"},
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

// ObserveFetch counts one upstream fetch.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchRequestsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveAttachment counts an attachment outcome (processed, duplicate, reindexed, skipped, failed).
func ObserveAttachment(outcome string) {
	Init()
	attachmentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord counts a record write outcome (created, degraded, dropped).
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records the duration of one crawl refresh.
func ObserveRefresh(duration time.Duration) {
	Init()
	refreshDurationSeconds.Observe(duration.Seconds())
}

// ObserveIndexChunks adds appended chunks.
func ObserveIndexChunks(n int) {
	Init()
	indexChunksTotal.Add(float64(n))
}

// ObserveIndexTask counts an index task attempt outcome.
func ObserveIndexTask(status string) {
	Init()
	indexTasksTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveAnswer counts a router answer by source (structured or semantic).
func ObserveAnswer(source string) {
	Init()
	routerAnswersTotal.WithLabelValues(source).Inc()
}
