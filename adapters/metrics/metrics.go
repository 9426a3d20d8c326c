// Package metrics provides Prometheus metrics collection for FeedVault.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for FeedVault. It implements
// ports.StageObserver, so stage activity feeds the counters directly.
type Collector struct {
	// Stage metrics
	TransactionsBegun     prometheus.Counter
	TransactionsCommitted prometheus.Counter
	TransactionsDiscarded prometheus.Counter
	DocumentsFlushed      prometheus.Counter
	MergesPerformed       prometheus.Counter
	FlushConflicts        prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		TransactionsBegun: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_transactions_begun_total",
				Help:      "Total number of stage transactions begun",
			},
		),
		TransactionsCommitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_transactions_committed_total",
				Help:      "Total number of stage transactions committed",
			},
		),
		TransactionsDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_transactions_discarded_total",
				Help:      "Total number of stage transactions discarded",
			},
		),
		DocumentsFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_documents_flushed_total",
				Help:      "Total number of documents flushed to the repository",
			},
		),
		MergesPerformed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_merges_total",
				Help:      "Total number of document merges performed",
			},
		),
		FlushConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "stage_flush_conflicts_total",
				Help:      "Total number of flushes that found a newer stored revision",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "feedvault",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "feedvault",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
	}
}

// TransactionBegun implements ports.StageObserver.
func (c *Collector) TransactionBegun() { c.TransactionsBegun.Inc() }

// TransactionCommitted implements ports.StageObserver.
func (c *Collector) TransactionCommitted() { c.TransactionsCommitted.Inc() }

// TransactionDiscarded implements ports.StageObserver.
func (c *Collector) TransactionDiscarded() { c.TransactionsDiscarded.Inc() }

// DocumentFlushed implements ports.StageObserver.
func (c *Collector) DocumentFlushed() { c.DocumentsFlushed.Inc() }

// MergePerformed implements ports.StageObserver.
func (c *Collector) MergePerformed() { c.MergesPerformed.Inc() }

// FlushConflict implements ports.StageObserver.
func (c *Collector) FlushConflict() { c.FlushConflicts.Inc() }
