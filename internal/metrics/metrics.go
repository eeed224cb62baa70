// Package metrics holds the Prometheus collectors of the trading core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecore"

// LedgerTransactions counts committed ledger rows by type.
var LedgerTransactions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Ledger transactions appended, by type",
	},
	[]string{"type"},
)

var LedgerRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "rejections_total",
		Help:      "Ledger operations rejected, by error code",
	},
	[]string{"code"},
)

var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "opened_total",
		Help:      "Positions opened, by symbol and side",
	},
	[]string{"symbol", "side"},
)

var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Positions closed, by reason",
	},
	[]string{"reason"},
)

// OperationLatency is measured in milliseconds around one storage unit of work.
var OperationLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "operation_latency_ms",
		Help:      "Latency of position operations in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	},
	[]string{"op"},
)

var CommissionFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "commission",
		Name:      "failures_total",
		Help:      "Commission records that could not be written after a close",
	},
)

var TicksDispatched = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "ticks_dispatched_total",
		Help:      "Position price ticks handed to account workers",
	},
)

var TicksDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "ticks_dropped_total",
		Help:      "Position price ticks dropped because a worker queue was full",
	},
)

var FeedReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "feed_reconnects_total",
		Help:      "Price feed reconnect attempts",
	},
)

var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route pattern and status class",
	},
	[]string{"route", "status"},
)

func Handler() http.Handler {
	return promhttp.Handler()
}
