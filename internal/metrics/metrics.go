// Package metrics exposes process-wide Prometheus collectors for the API,
// rendering, indexing and retrieval. Per-job crawl progress is exported by
// the progress Prometheus sink.
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
	rendersTotal               *prometheus.CounterVec
	chunksIndexedTotal         prometheus.Counter
	indexFailuresTotal         prometheus.Counter
	searchesTotal              *prometheus.CounterVec
	answersTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesai_renders_total",
				Help: "Headless renders, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		chunksIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "salesai_chunks_indexed_total",
				Help: "Chunks embedded and persisted.",
			},
		)

		indexFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "salesai_index_failures_total",
				Help: "Crawl rounds whose chunks could not be embedded or stored.",
			},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesai_searches_total",
				Help: "Retrieval searches, labeled by the strategy that served them.",
			},
			[]string{"strategy"},
		)

		answersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesai_answers_total",
				Help: "Answers produced, labeled by outcome.",
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "salesai_active_workers",
				Help: "Number of workers currently running a crawl.",
			},
		)
	})
}

// SanitizeSite reduces a URL to its lowercase hostname, or "unknown".
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

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRender counts a headless render attempt.
func ObserveRender(outcome string) {
	Init()
	rendersTotal.WithLabelValues(outcome).Inc()
}

// ObserveIndexed counts persisted chunks.
func ObserveIndexed(n int) {
	Init()
	if n > 0 {
		chunksIndexedTotal.Add(float64(n))
	}
}

// ObserveIndexFailure counts a failed indexing round.
func ObserveIndexFailure() {
	Init()
	indexFailuresTotal.Inc()
}

// ObserveSearch counts a search served by strategy.
func ObserveSearch(strategy string) {
	Init()
	searchesTotal.WithLabelValues(strategy).Inc()
}

// ObserveAnswer counts an answer by outcome.
func ObserveAnswer(outcome string) {
	Init()
	answersTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records request count and latency.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
