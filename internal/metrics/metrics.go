package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDetected counts decoded chain events by type
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_detected_total",
			Help: "Total number of chain events decoded by the poller",
		},
		[]string{"event_type"},
	)

	// EventsProcessed counts handler invocations by type and outcome
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_processed_total",
			Help: "Total number of events processed by handlers",
		},
		[]string{"event_type", "outcome"},
	)

	// HandlerSkips counts recoverable skips (unknown market, unlinked token)
	HandlerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_handler_skips_total",
			Help: "Total number of events skipped by handlers",
		},
		[]string{"event_type", "reason"},
	)

	// AccountsSwept counts accounts visited by the daily snapshot sweep
	AccountsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_accounts_swept_total",
			Help: "Total number of accounts visited by the daily sweep",
		},
	)

	// SweepDuration tracks the duration of one sweep batch
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexer_sweep_batch_duration_seconds",
			Help:    "Duration of one daily sweep batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SnapshotsFinalized counts finalized daily snapshots
	SnapshotsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_snapshots_finalized_total",
			Help: "Total number of daily snapshots finalized",
		},
	)

	// LastPolledBlock tracks the last block emitted by the poller
	LastPolledBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_last_polled_block",
			Help: "Last block number emitted by the log poller",
		},
	)

	// LastProcessedBlock tracks the last block fully processed by the engine
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_last_processed_block",
			Help: "Last block number fully processed by the engine",
		},
	)

	// UniqueAccounts tracks the protocol's cumulative unique account count
	UniqueAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_unique_accounts",
			Help: "Cumulative unique accounts seen by the protocol",
		},
	)
)
