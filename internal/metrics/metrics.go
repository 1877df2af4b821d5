// Package metrics provides Prometheus instrumentation for the fare engine.
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
	// PurchasesTotal counts purchase attempts by outcome
	// (ok, insufficient_funds, unknown_station, invalid, error).
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_purchases_total",
		Help: "Total number of fare purchase attempts",
	}, []string{"outcome"})

	// PurchaseLatency tracks purchase handling time.
	PurchaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_purchase_latency_seconds",
		Help:    "Fare purchase latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FareRevenue accumulates base units collected, net of change.
	FareRevenue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_fare_revenue_base_units_total",
		Help: "Base units collected by fare purchases",
	})

	// ChangeReturned accumulates base units returned as change.
	ChangeReturned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_change_returned_base_units_total",
		Help: "Base units returned to riders as change",
	})

	// RefundsTotal accumulates base units refunded for unused tickets.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_refunds_base_units_total",
		Help: "Base units refunded for unused tickets",
	})

	// TicketTransitions counts lifecycle moves by target status and result.
	TicketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_ticket_transitions_total",
		Help: "Ticket status transitions",
	}, []string{"to", "result"})

	// Stations tracks the number of registered stations.
	Stations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transit_stations",
		Help: "Number of registered stations",
	})

	// FareRules tracks the number of directional fixed-fare rules.
	FareRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transit_fare_rules",
		Help: "Number of fixed-fare rules in the fare table",
	})

	// RegistryReloads counts station table reloads by result.
	RegistryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_registry_reloads_total",
		Help: "Station table reloads",
	}, []string{"result"})

	// RateLimited counts requests rejected by the purchase rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transit_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transit_http_request_duration_seconds",
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

		// Station names and ticket IDs live in the path; label by route
		// pattern to keep cardinality bounded.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
