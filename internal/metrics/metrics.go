// Package metrics provides Prometheus instrumentation for the execution
// engine.
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
	// OrdersSubmitted counts orders accepted by the submission pipeline,
	// partitioned by venue and side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_submitted_total",
		Help: "Orders submitted to a venue",
	}, []string{"exchange", "side"})

	// OrdersRejected counts orders that never reached a venue,
	// partitioned by reason (risk, broker, validation).
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_rejected_total",
		Help: "Orders rejected before or during venue submission",
	}, []string{"exchange", "reason"})

	// OrdersFilled counts orders that reached a fully filled state.
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_filled_total",
		Help: "Orders fully filled",
	}, []string{"exchange"})

	// IdempotentHits counts submissions answered from the idempotency
	// cache without touching the venue.
	IdempotentHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_idempotent_hits_total",
		Help: "Duplicate submissions served from the idempotency cache",
	})

	// BrokerLatency measures venue round-trip time per operation.
	BrokerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_broker_latency_seconds",
		Help:    "Venue request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange", "op"})

	// ReconcileRuns counts reconciliation sweeps.
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_reconcile_runs_total",
		Help: "Reconciliation sweeps executed",
	})

	// ReconcileUpdates counts orders whose state changed during a sweep.
	ReconcileUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_reconcile_updates_total",
		Help: "Orders updated by the reconciler",
	})

	// OpenPositions tracks the number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_open_positions",
		Help: "Number of currently open positions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
