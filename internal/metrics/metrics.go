// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlement plans produced, partitioned by mode.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goker_settlements_total",
		Help: "Total number of settlement plans produced",
	}, []string{"mode"})

	// SettlementLatency tracks close-and-settle latency.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goker_settlement_latency_seconds",
		Help:    "Close-and-settle latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PlanTransfers tracks the number of transfers per plan.
	PlanTransfers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goker_plan_transfers",
		Help:    "Number of transfers in each settlement plan",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
	})

	// SearchNodes tracks nodes explored by the exact solver.
	SearchNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goker_exact_search_nodes",
		Help:    "Search nodes explored by the exact solver",
		Buckets: prometheus.ExponentialBuckets(16, 4, 10),
	})

	// ValidationFailures counts plans rejected by the validator, by reason.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goker_validation_failures_total",
		Help: "Settlement plans rejected by the validator",
	}, []string{"reason"})

	// AggregationFailures counts sessions whose entries failed to aggregate.
	AggregationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goker_aggregation_failures_total",
		Help: "Sessions whose entries could not be aggregated",
	}, []string{"reason"})

	// EntriesRecorded counts ledger entries accepted.
	EntriesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goker_entries_recorded_total",
		Help: "Total ledger entries recorded",
	})

	// OpenSessions tracks sessions currently accepting entries.
	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goker_open_sessions",
		Help: "Number of sessions accepting entries",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goker_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
