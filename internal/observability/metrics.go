// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Poller metrics
	PollCycles        *prometheus.CounterVec
	PollCycleDuration prometheus.Histogram
	SignaturesFetched prometheus.Counter
	ActivePollers     prometheus.Gauge
	Wakeups           *prometheus.CounterVec
	WSDropped         prometheus.Counter

	// Ledger metrics
	EventsApplied    prometheus.Counter
	EventsDuplicate  prometheus.Counter
	TradesByOutcome  *prometheus.CounterVec
	RealizedPnLUSD   prometheus.Histogram
	ArchiveFailures  prometheus.Counter

	// Provider metrics
	ProviderCallLatency *prometheus.HistogramVec
	ProviderErrors      *prometheus.CounterVec
	PriceLookups        *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "wallet_ledger"
	}
	factory := promauto.With(reg)

	return &Metrics{
		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles by result",
		}, []string{"result"}),
		PollCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a poll cycle",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		}),
		SignaturesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "signatures_fetched_total",
			Help:      "Total number of signatures returned by the RPC",
		}),
		ActivePollers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "active_pollers",
			Help:      "Number of running wallet pollers",
		}),
		Wakeups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "wakeups_total",
			Help:      "Total number of early poller wakeups by source",
		}, []string{"source"}),
		WSDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "notifications_dropped_total",
			Help:      "Total number of log notifications dropped on full subscriber buffers",
		}),

		EventsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_applied_total",
			Help:      "Total number of swap events applied to the ledger",
		}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_duplicate_total",
			Help:      "Total number of swap events skipped as already applied",
		}),
		TradesByOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_total",
			Help:      "Total number of trades by outcome",
		}, []string{"outcome"}),
		RealizedPnLUSD: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "realized_pnl_usd",
			Help:      "Realized PnL per applied event in USD",
			Buckets:   []float64{-10000, -1000, -100, -10, -1, 0, 1, 10, 100, 1000, 10000},
		}),
		ArchiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "archive_failures_total",
			Help:      "Total number of applied events that could not be archived",
		}),

		ProviderCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Upstream provider call latency",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"provider", "op"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Total number of failed upstream provider calls",
		}, []string{"provider", "op"}),
		PriceLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "lookups_total",
			Help:      "Total number of price lookups by result",
		}, []string{"result"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last successful poll cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPollCycle records a finished poll cycle.
func RecordPollCycle(result string, seconds float64, signatures int) {
	DefaultMetrics.PollCycles.WithLabelValues(result).Inc()
	DefaultMetrics.PollCycleDuration.Observe(seconds)
	DefaultMetrics.SignaturesFetched.Add(float64(signatures))
}

// RecordSuccessfulCycle stamps the health gauge.
func RecordSuccessfulCycle(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulCycle.Set(float64(unixSeconds))
}

// RecordWakeup counts an early poller wakeup.
func RecordWakeup(source string) {
	DefaultMetrics.Wakeups.WithLabelValues(source).Inc()
}

// RecordWSDropped counts a websocket notification dropped on a full buffer.
func RecordWSDropped() {
	DefaultMetrics.WSDropped.Inc()
}

// SetActivePollers updates the running pollers gauge.
func SetActivePollers(n int) {
	DefaultMetrics.ActivePollers.Set(float64(n))
}

// RecordEventApplied records an applied event and its realized PnL.
func RecordEventApplied(pnlUSD float64) {
	DefaultMetrics.EventsApplied.Inc()
	DefaultMetrics.RealizedPnLUSD.Observe(pnlUSD)
	switch {
	case pnlUSD > 0:
		DefaultMetrics.TradesByOutcome.WithLabelValues("win").Inc()
	case pnlUSD < 0:
		DefaultMetrics.TradesByOutcome.WithLabelValues("loss").Inc()
	default:
		DefaultMetrics.TradesByOutcome.WithLabelValues("flat").Inc()
	}
}

// RecordEventDuplicate counts an event skipped by the idempotence check.
func RecordEventDuplicate() {
	DefaultMetrics.EventsDuplicate.Inc()
}

// RecordArchiveFailure counts an event the archive rejected.
func RecordArchiveFailure() {
	DefaultMetrics.ArchiveFailures.Inc()
}

// RecordProviderCall records an upstream call and its outcome.
func RecordProviderCall(provider, op string, seconds float64, err error) {
	DefaultMetrics.ProviderCallLatency.WithLabelValues(provider, op).Observe(seconds)
	if err != nil {
		DefaultMetrics.ProviderErrors.WithLabelValues(provider, op).Inc()
	}
}

// RecordPriceLookup counts a price lookup: "cache_hit", "fetched" or "zero".
func RecordPriceLookup(result string) {
	DefaultMetrics.PriceLookups.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
