// Package metrics registers the engine's Prometheus collectors: commit
// throughput and latency, OCC abort rate, cache hit ratio, and
// subscription fanout counts. Definitions follow the common
// counter/gauge/histogram-vec style, one global var block registered
// once in init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "committer",
			Name:      "commits_total",
			Help:      "Counter of commit attempts by outcome.",
		}, []string{"outcome"})

	CommitLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "latticedb",
			Subsystem: "committer",
			Name:      "commit_latency_seconds",
			Help:      "Bucketed latency of Committer.Commit from call to return.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"outcome"})

	PendingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "committer",
			Name:      "pending_queue_depth",
			Help:      "Number of commits staged but not yet persisted and published.",
		})

	OCCAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "committer",
			Name:      "occ_aborts_total",
			Help:      "Counter of commits rejected by OCC conflict validation.",
		})

	RetentionSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "committer",
			Name:      "retention_swept_total",
			Help:      "Counter of revisions dropped by retention sweeps.",
		})

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Counter of cache lookups by result.",
		}, []string{"result"})

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of entries currently cached.",
		})

	CacheUsedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "cache",
			Name:      "used_bytes",
			Help:      "Estimated byte footprint of cached entries.",
		})

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Number of live subscriptions awaiting invalidation.",
		})

	SubscriptionInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "subscription",
			Name:      "invalidations_total",
			Help:      "Counter of subscriptions delivered an invalidation.",
		})

	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "engine",
			Name:      "transactions_active",
			Help:      "Number of transactions currently open (begun but not yet finalized or dropped).",
		})

	RetentionHorizonTs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "latticedb",
			Subsystem: "engine",
			Name:      "retention_horizon_ts",
			Help:      "Most recently computed MVCC retention horizon timestamp.",
		})

	TransactionTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "latticedb",
			Subsystem: "engine",
			Name:      "transaction_timeouts_total",
			Help:      "Counter of transactions that missed their deadline before commit submission.",
		})
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		CommitLatencySeconds,
		PendingQueueDepth,
		OCCAbortsTotal,
		RetentionSweptTotal,
		CacheRequestsTotal,
		CacheEntries,
		CacheUsedBytes,
		SubscriptionsActive,
		SubscriptionInvalidationsTotal,
		TransactionsActive,
		RetentionHorizonTs,
		TransactionTimeoutsTotal,
	)
}

// Outcome labels for CommitsTotal/CommitLatencySeconds.
const (
	OutcomeCommitted              = "committed"
	OutcomeOCCAbort               = "occ_abort"
	OutcomePersistenceUnavailable = "persistence_unavailable"
	OutcomeTransactionTimeout     = "transaction_timeout"
)

// Result labels for CacheRequestsTotal.
const (
	CacheResultHit  = "hit"
	CacheResultMiss = "miss"
)
