// Package metrics provides Prometheus metrics for the Astro server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "astro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LLM metrics
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_llm_requests_total",
			Help: "Total LLM provider attempts by outcome",
		},
		[]string{"backend", "model", "outcome"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "astro_llm_request_duration_seconds",
			Help:    "LLM provider attempt duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"backend", "model"},
	)

	llmRateLimitWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_llm_rate_limit_waits_total",
			Help: "Backoff waits after a 429, by whether the provider sent a retry hint",
		},
		[]string{"hinted"},
	)

	llmBackoffSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "astro_llm_backoff_seconds_total",
			Help: "Total time spent waiting on LLM rate limits",
		},
	)

	llmRetriesExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "astro_llm_retries_exhausted_total",
			Help: "LLM requests that failed after all attempts were rate limited",
		},
	)

	llmPlaceholdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_llm_placeholders_total",
			Help: "Placeholder answers returned instead of model output",
		},
		[]string{"category"},
	)

	responseParseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_response_parse_failures_total",
			Help: "Model responses rejected by the response parser",
		},
		[]string{"kind"},
	)

	// Source-tree provider metrics
	treeFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_tree_fetches_total",
			Help: "Source-tree provider requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	treeFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "astro_tree_fetch_duration_seconds",
			Help:    "Source-tree provider request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	invalidEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "astro_tree_invalid_entries_total",
			Help: "Provider entries skipped because they lacked a name or path",
		},
	)

	// Session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "astro_sessions_active",
			Help: "Number of open repository sessions",
		},
	)

	sessionTreeNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "astro_session_tree_nodes",
			Help:    "Loaded node count of a session tree after each expansion",
			Buckets: prometheus.ExponentialBuckets(8, 4, 8),
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_cache_lookups_total",
			Help: "Session cache lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "astro_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLLMRequest records one provider attempt.
func RecordLLMRequest(backend, model, outcome string, duration time.Duration) {
	llmRequestsTotal.WithLabelValues(backend, model, outcome).Inc()
	llmRequestDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
}

// RecordRateLimitWait records a backoff wait after a 429.
func RecordRateLimitWait(hinted bool, wait time.Duration) {
	llmRateLimitWaitsTotal.WithLabelValues(strconv.FormatBool(hinted)).Inc()
	llmBackoffSeconds.Add(wait.Seconds())
}

// RecordRetriesExhausted records a request that ran out of attempts.
func RecordRetriesExhausted() {
	llmRetriesExhaustedTotal.Inc()
}

// RecordPlaceholder records a placeholder answer.
func RecordPlaceholder(category string) {
	llmPlaceholdersTotal.WithLabelValues(category).Inc()
}

// RecordParseFailure records a rejected model response.
func RecordParseFailure(kind string) {
	responseParseFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordTreeFetch records a source-tree provider request.
func RecordTreeFetch(operation string, status int, duration time.Duration) {
	treeFetchesTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	treeFetchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordInvalidEntries records skipped provider entries.
func RecordInvalidEntries(n int) {
	invalidEntriesTotal.Add(float64(n))
}

// SessionOpened increments the active session gauge.
func SessionOpened() { sessionsActive.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { sessionsActive.Dec() }

// ObserveTreeNodes records the loaded size of a session tree.
func ObserveTreeNodes(n int) {
	sessionTreeNodes.Observe(float64(n))
}

// RecordCacheLookup records a session cache hit or miss.
func RecordCacheLookup(kind string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their route pattern so session ids don't explode the
// label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
