// Package metrics exposes Prometheus collectors for the feed service.
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
	feedRunsTotal              *prometheus.CounterVec
	feedRunDurationSeconds     *prometheus.HistogramVec
	feedItemsInsertedTotal     *prometheus.CounterVec
	pageFetchesTotal           *prometheus.CounterVec
	robotsDecisionsTotal       *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Observe helpers
// are no-ops until Init runs, so library tests do not need a registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		feedRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefeed_runs_total",
				Help: "Total number of feed runs, labeled by status.",
			},
			[]string{"status"},
		)

		feedRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagefeed_run_duration_seconds",
				Help:    "Histogram of end-to-end feed run durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		)

		feedItemsInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefeed_items_inserted_total",
				Help: "Total number of new items persisted, labeled by feed.",
			},
			[]string{"feed"},
		)

		pageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefeed_page_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefeed_robots_decisions_total",
				Help: "Total robots.txt decisions, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefeed_cache_lookups_total",
				Help: "Total response cache lookups, labeled by result.",
			},
			[]string{"result"},
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
	return promhttp.Handler()
}

// ObserveRun records one finished feed run.
func ObserveRun(status string, duration time.Duration) {
	if feedRunsTotal == nil {
		return
	}

	feedRunsTotal.WithLabelValues(status).Inc()
	feedRunDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveItemsInserted counts newly persisted items for a feed.
func ObserveItemsInserted(feedID string, count int) {
	if feedItemsInsertedTotal == nil {
		return
	}

	if count > 0 {
		feedItemsInsertedTotal.WithLabelValues(feedID).Add(float64(count))
	}
}

// ObserveFetch records one page fetch attempt.
func ObserveFetch(site, outcome string) {
	if pageFetchesTotal == nil {
		return
	}

	pageFetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRobotsDecision counts an allow or deny verdict.
func ObserveRobotsDecision(allowed bool) {
	if robotsDecisionsTotal == nil {
		return
	}

	verdict := "allowed"
	if !allowed {
		verdict = "denied"
	}
	robotsDecisionsTotal.WithLabelValues(verdict).Inc()
}

// ObserveCacheLookup counts a response cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}

	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
