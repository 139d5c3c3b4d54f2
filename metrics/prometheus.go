package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eows_http_requests_total",
			Help: "Total number of OWS requests.",
		},
		[]string{"service", "operation", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eows_http_request_duration_seconds",
			Help:    "Duration of OWS requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"service", "operation"},
	)

	storeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eows_store_lookups_total",
			Help: "Record lookups by the source that answered them.",
		},
		[]string{"source"},
	)

	renderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eows_render_duration_seconds",
			Help:    "Latency of rendering engine calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"renderer", "status"},
	)
)

func label(s string) string {
	if len(s) == 0 {
		return "unknown"
	}
	return s
}

func ObserveRequest(service, operation string, status int, d time.Duration) {
	service, operation = label(service), label(operation)
	httpRequestsTotal.WithLabelValues(service, operation, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(service, operation).Observe(d.Seconds())
}

// IncStoreLookup counts one record lookup answered by source (lru,
// memcache, postgres, memory).
func IncStoreLookup(source string) {
	storeLookupsTotal.WithLabelValues(source).Inc()
}

func ObserveRender(renderer string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	renderDurationSeconds.WithLabelValues(label(renderer), status).Observe(d.Seconds())
}
