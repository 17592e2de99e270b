// Package metrics provides Prometheus instrumentation for the pool engine.
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
	// DepositsTotal counts deposits accepted by the ledger.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_deposits_total",
		Help: "Total number of deposits accepted",
	})

	// WithdrawalsTotal counts withdrawals executed by the ledger.
	WithdrawalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_withdrawals_total",
		Help: "Total number of withdrawals executed",
	})

	// LiquidationsTotal counts liquidation requests, partitioned by
	// whether they applied or were ignored as no-ops.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_liquidations_total",
		Help: "Total number of liquidation requests",
	}, []string{"applied"})

	// RewardsPaidTotal accumulates reward units paid out to depositors.
	// Approximate float for observability; the journal holds exact values.
	RewardsPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_rewards_paid_units_total",
		Help: "Cumulative reward units paid out",
	})

	// TotalPooled tracks the aggregate depositor value in the pool.
	TotalPooled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_total_pooled_units",
		Help: "Aggregate depositor value currently pooled",
	})

	// Epoch tracks the current pool generation.
	Epoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_epoch",
		Help: "Current pool epoch (increments on full depletion)",
	})

	// Scale tracks the rebasing count within the current epoch.
	Scale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_scale",
		Help: "Current product rebasing count within the epoch",
	})

	// Depositors tracks the number of live snapshots.
	Depositors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_depositors",
		Help: "Number of depositors with a live snapshot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
