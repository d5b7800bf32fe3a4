// Package metrics provides Prometheus instrumentation for the league engine.
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
	// TradesTotal counts trade requests by side and outcome
	// (committed, rejected, rolled_back).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_trades_total",
		Help: "Trade requests by side and outcome",
	}, []string{"side", "outcome"})

	// TradeLatency measures Execute from queue entry to result.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "league_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRollbacks counts trades whose commit failed after the player
	// state had been mutated in memory.
	TradeRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_trade_rollbacks_total",
		Help: "Trades rolled back after a failed commit",
	})

	// PriceRefreshFailures counts poller iterations that kept the previous
	// price snapshot.
	PriceRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_price_refresh_failures_total",
		Help: "Failed market-data refreshes",
	})

	// PriceRefreshes counts successful price snapshot publications.
	PriceRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_price_refreshes_total",
		Help: "Published price snapshots",
	})

	// SnapshotsRecorded counts valuation snapshots written by the recorder.
	SnapshotsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_snapshots_recorded_total",
		Help: "Valuation snapshots written",
	})

	// CacheLookups counts read-cache lookups by cache and result (hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_cache_lookups_total",
		Help: "Read cache lookups",
	}, []string{"cache", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "league_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "league_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "league_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// CacheHit and CacheMiss return counters bound to one cache name, in the
// shape the caches accept as callbacks.
func CacheHit(cache string) func() {
	c := CacheLookups.WithLabelValues(cache, "hit")
	return c.Inc
}

func CacheMiss(cache string) func() {
	c := CacheLookups.WithLabelValues(cache, "miss")
	return c.Inc
}

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so that ids in the path do not
// blow up label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
