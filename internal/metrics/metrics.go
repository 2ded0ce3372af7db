// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal    *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	reviewsCollectedTotal *prometheus.CounterVec
	breakerTransitions    *prometheus.CounterVec
	cacheEventsTotal      *prometheus.CounterVec
	throttleDelaySeconds  *prometheus.HistogramVec
	inflightAdapters      prometheus.Gauge
	collectionsTotal      *prometheus.CounterVec
	httpRequestsTotal     *prometheus.CounterVec
	httpDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetch_requests_total",
				Help: "Total outbound fetches, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		reviewsCollectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_reviews_total",
				Help: "Total reviews collected, labeled by source.",
			},
			[]string{"source"},
		)

		breakerTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_breaker_transitions_total",
				Help: "Circuit breaker transitions, labeled by key and new state.",
			},
			[]string{"key", "state"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_cache_events_total",
				Help: "Review cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_throttle_delay_seconds",
				Help:    "Histogram of per-domain throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		inflightAdapters = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_inflight_adapters",
				Help: "Number of source adapters currently scraping.",
			},
		)

		collectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_collections_total",
				Help: "Completed collections, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_http_requests_total",
				Help: "Inbound HTTP requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_http_request_duration_seconds",
				Help:    "Histogram of inbound HTTP request latencies, labeled by route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"route"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL, returning
// "unknown" when it cannot.
func SanitizeDomain(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound fetch attempt.
func ObserveFetch(domain, outcome string, duration time.Duration) {
	if fetchRequestsTotal == nil {
		return
	}
	fetchRequestsTotal.WithLabelValues(domain, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveReviews adds to the per-source review counter.
func ObserveReviews(source string, count int) {
	if reviewsCollectedTotal == nil || count <= 0 {
		return
	}
	reviewsCollectedTotal.WithLabelValues(source).Add(float64(count))
}

// ObserveBreakerTransition records a circuit state change.
func ObserveBreakerTransition(key, state string) {
	if breakerTransitions == nil {
		return
	}
	breakerTransitions.WithLabelValues(key, state).Inc()
}

// ObserveCacheEvent records a cache hit or miss.
func ObserveCacheEvent(result string) {
	if cacheEventsTotal == nil {
		return
	}
	cacheEventsTotal.WithLabelValues(result).Inc()
}

// ObserveThrottleDelay records time spent waiting on the per-domain gate.
func ObserveThrottleDelay(domain string, d time.Duration) {
	if throttleDelaySeconds == nil || d <= time.Millisecond {
		return
	}
	throttleDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// AdapterStarted increments the in-flight adapter gauge.
func AdapterStarted() {
	if inflightAdapters != nil {
		inflightAdapters.Inc()
	}
}

// AdapterFinished decrements the in-flight adapter gauge.
func AdapterFinished() {
	if inflightAdapters != nil {
		inflightAdapters.Dec()
	}
}

// ObserveCollection records a finished collection.
func ObserveCollection(outcome string) {
	if collectionsTotal == nil {
		return
	}
	collectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// Middleware records request metrics for a chi router, labeling by the
// matched route pattern rather than the raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
