// Package metrics exposes the engine's Prometheus counters. Wiring a metrics
// dependency follows chidi150c-coinbase's use of client_golang, since the
// engine itself otherwise carries no telemetry library.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RateLimitSkips counts ticks skipped because the rate limiter denied a
	// token (spec §5, §8 scenario 4).
	RateLimitSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_rate_limit_skips_total",
			Help: "Ticks skipped because the rate limiter denied a token.",
		},
		[]string{"symbol"},
	)

	// CircuitTrips counts per-symbol protocol circuit trips (spec §7).
	CircuitTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_circuit_trips_total",
			Help: "Times a symbol's protocol circuit tripped open.",
		},
		[]string{"symbol"},
	)

	// RetryAttempts counts retry attempts made by the market client's retry
	// wrapper (spec §9 consolidated retry helper).
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_retry_attempts_total",
			Help: "Retry attempts made against the market data venue.",
		},
		[]string{"op"},
	)

	// StreamReconnects counts stream client reconnect attempts (spec §4.3).
	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_stream_reconnects_total",
			Help: "Stream client reconnect attempts per symbol.",
		},
		[]string{"symbol"},
	)

	// TradesOpened and TradesClosed count ledger events (spec §3 Trade).
	TradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_opened_total",
			Help: "Positions opened by the trading loop.",
		},
		[]string{"symbol"},
	)
	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Positions closed by the trading loop, by exit reason.",
		},
		[]string{"symbol", "reason"},
	)
)

// Registry is the engine's private Prometheus registry; callers expose it
// via a /metrics handler in the REST façade.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(RateLimitSkips, CircuitTrips, RetryAttempts, StreamReconnects, TradesOpened, TradesClosed)
}
