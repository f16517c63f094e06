// Package metrics provides Prometheus instrumentation for the market engine.
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
	// OrdersTotal counts executed orders, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_orders_total",
		Help: "Total number of orders executed",
	}, []string{"side"})

	// OrderLatency tracks order execution latency by side.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// OrderRejections counts orders rejected by the engine, by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_order_rejections_total",
		Help: "Orders rejected by the execution engine",
	}, []string{"reason"})

	// DataIntegrityAnomalies counts holdings whose symbol is missing from
	// the reference store during valuation.
	DataIntegrityAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_data_integrity_anomalies_total",
		Help: "Holdings referencing symbols absent from the reference store",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// Subscriptions tracks total topic memberships across all clients.
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_topic_subscriptions",
		Help: "Number of active symbol topic memberships",
	})

	// DroppedDeliveries counts broadcast messages a client could not accept.
	DroppedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_dropped_deliveries_total",
		Help: "Broadcast messages dropped for slow or closed clients",
	})

	// SimulatorTicks counts completed price simulation ticks.
	SimulatorTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_simulator_ticks_total",
		Help: "Completed price simulation ticks",
	})

	// SimulatorErrors counts per-symbol failures inside a tick.
	SimulatorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_simulator_errors_total",
		Help: "Per-symbol failures during price simulation",
	}, []string{"kind"})

	// PriceUpdates counts published price updates per instrument kind.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_price_updates_total",
		Help: "Price updates published to the broadcaster",
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOrder records a successful order execution.
func ObserveOrder(side string, started time.Time) {
	OrdersTotal.WithLabelValues(side).Inc()
	OrderLatency.WithLabelValues(side).Observe(time.Since(started).Seconds())
}

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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
