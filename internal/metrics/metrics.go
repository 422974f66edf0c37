// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"math"
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
	// TradesTotal counts committed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_total",
		Help: "Total number of committed trades",
	}, []string{"side"})

	// TradeRejections counts rejected trades by error code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_rejections_total",
		Help: "Trades rejected, by error code",
	}, []string{"code"})

	// TradeLatency measures Execute from validation to commit or rejection.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// VersionConflicts counts compare-and-swap writes lost to a concurrent update.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_version_conflicts_total",
		Help: "Portfolio writes rejected by a version conflict",
	})

	// CommitAttempts records how many attempts a guarded commit needed.
	CommitAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_commit_attempts",
		Help:    "Attempts per guarded portfolio commit",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	// QuoteFetches counts price-feed lookups by source and outcome.
	QuoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_quote_fetches_total",
		Help: "Price feed lookups",
	}, []string{"source", "outcome"})

	// TradeVolume tracks cumulative traded notional by side.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_volume_total",
		Help: "Cumulative traded amount in account currency",
	}, []string{"side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts trade events handed to the publisher, by outcome.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_published_total",
		Help: "Trade events published",
	}, []string{"outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterActiveCompetitions exports ledger_active_competitions on reg. The
// value comes from count at scrape time, so it reflects the shared store
// rather than what this process has seen. A failed count reports NaN.
func RegisterActiveCompetitions(reg prometheus.Registerer, count func() (int, error)) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ledger_active_competitions",
		Help: "Competitions whose trading window is open",
	}, func() float64 {
		n, err := count()
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}))
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the matched chi pattern over the raw path so that
// competition IDs do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
