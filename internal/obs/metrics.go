package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outbound document-store RPC metrics.
var (
	docRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docstore_in_flight_requests",
		Help: "In-flight document store requests.",
	})

	docRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_requests_total",
			Help: "Total number of document store requests.",
		},
		[]string{"op", "code"},
	)

	docRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_request_duration_seconds",
			Help:    "Document store request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "code"},
	)

	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"trigger", "outcome"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(docRequestsInFlight, docRequestsTotal, docRequestDuration, tokenRefreshTotal)
}

// Handler exposes the Prometheus scrape endpoint for embedders that want one.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocRequest records one completed document store request.
// op is the logical operation (get, commit, runQuery, ...), code the error
// taxonomy name or "ok".
func ObserveDocRequest(op, code string, started time.Time) {
	d := time.Since(started).Seconds()
	docRequestDuration.WithLabelValues(op, code).Observe(d)
	docRequestsTotal.WithLabelValues(op, code).Inc()
}

// DocRequestStarted marks a request as in flight; call the returned func when done.
func DocRequestStarted() func() {
	docRequestsInFlight.Inc()
	return docRequestsInFlight.Dec
}

// CountTokenRefresh records a refresh attempt. trigger is "lazy" or
// "proactive", outcome "ok" or "error".
func CountTokenRefresh(trigger, outcome string) {
	tokenRefreshTotal.WithLabelValues(trigger, outcome).Inc()
}
