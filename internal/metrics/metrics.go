// Package metrics provides Prometheus instrumentation for the vault engine.
package metrics

import (
	"bufio"
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
	// OperationsTotal counts vault operations by op and result class.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_operations_total",
		Help: "Total number of vault operations, by result",
	}, []string{"op", "result"})

	// OperationLatency tracks vault operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultd_operation_latency_seconds",
		Help:    "Vault operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// ActiveVaults tracks the number of open vaults.
	ActiveVaults = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultd_active_vaults",
		Help: "Number of currently open vaults",
	})

	// DepositVolume tracks principal deposited per token mint, in raw units.
	DepositVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_deposit_volume_total",
		Help: "Cumulative principal deposited in raw token units",
	}, []string{"token_mint"})

	// WithdrawVolume tracks principal returned per token mint, in raw units.
	WithdrawVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_withdraw_volume_total",
		Help: "Cumulative principal withdrawn in raw token units",
	}, []string{"token_mint"})

	// LPMinted and LPBurned track LP token issuance per token mint.
	LPMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_lp_minted_total",
		Help: "Cumulative LP tokens minted",
	}, []string{"token_mint"})
	LPBurned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_lp_burned_total",
		Help: "Cumulative LP tokens burned",
	}, []string{"token_mint"})

	// Compensations counts side effects reversed after a later step failed,
	// by op and outcome ("ok" or "failed").
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_compensations_total",
		Help: "Side effects reversed after a failed operation",
	}, []string{"op", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultd_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultd_http_request_duration_seconds",
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

		// Vault and mint addresses in the path would explode cardinality;
		// label by the matched chi route pattern instead.
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

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
