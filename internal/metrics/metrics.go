// Package metrics exposes Prometheus instrumentation for the order
// lifecycle engine.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savoro_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	transitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_order_transitions_total",
			Help: "Order status transitions applied, by target status and mode",
		},
		[]string{"to_status", "mode"},
	)

	transitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_order_transitions_rejected_total",
			Help: "Order status transitions rejected by the validator",
		},
		[]string{"from_status", "to_status", "mode"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_notifications_dispatched_total",
			Help: "Per-channel notification outcomes (sent, failed, skipped)",
		},
		[]string{"channel", "status"},
	)

	channelSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savoro_channel_send_latency_seconds",
			Help:    "External channel send latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	bulkUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_bulk_updates_total",
			Help: "Orders touched by bulk status updates, by outcome",
		},
		[]string{"outcome"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_circuit_breaker_transitions_total",
			Help: "Provider circuit breaker state changes, by breaker and new state",
		},
		[]string{"breaker", "to_state"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savoro_rate_limited_requests_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		},
		[]string{"scope"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransitionApplied records a committed status transition.
func RecordTransitionApplied(toStatus, mode string) {
	transitionsApplied.WithLabelValues(toStatus, mode).Inc()
}

// RecordTransitionRejected records a transition the validator refused.
func RecordTransitionRejected(fromStatus, toStatus, mode string) {
	transitionsRejected.WithLabelValues(fromStatus, toStatus, mode).Inc()
}

// RecordNotificationDispatched records one channel outcome.
func RecordNotificationDispatched(channel, status string) {
	notificationsDispatched.WithLabelValues(channel, status).Inc()
}

// RecordChannelSendLatency records how long one external send took.
func RecordChannelSendLatency(channel string, latency time.Duration) {
	channelSendLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordBreakerTransition records a circuit breaker changing state.
func RecordBreakerTransition(breaker, toState string) {
	breakerTransitions.WithLabelValues(breaker, toState).Inc()
}

// RecordRateLimited records a request turned away by the rate limiter.
// scope is the key family ("merchant", "ip"), never the full key.
func RecordRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

// RecordBulkOutcome adds bulk update counts.
func RecordBulkOutcome(succeeded, failed int) {
	bulkUpdates.WithLabelValues("success").Add(float64(succeeded))
	bulkUpdates.WithLabelValues("failed").Add(float64(failed))
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
