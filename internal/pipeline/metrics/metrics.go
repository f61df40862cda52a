package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsTotal tracks finished snapshot runs by terminal outcome.
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_snapshots_total",
			Help: "Total number of snapshot runs by outcome",
		},
		[]string{"phase", "outcome"},
	)

	// RecordsWritten tracks rows persisted per entity kind.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_records_written_total",
			Help: "Total number of records written to the warehouse",
		},
		[]string{"kind"},
	)

	// RetryAttempts tracks warehouse operation attempts by classification.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_retry_attempts_total",
			Help: "Total warehouse operation attempts by failure classification",
		},
		[]string{"operation", "classification"},
	)

	// ScoringDuration tracks end-to-end scoring latency per snapshot.
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_scoring_duration_seconds",
			Help:    "Scoring run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsPublished tracks completion events published to the event channel.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_published_total",
			Help: "Total snapshot events published",
		},
		[]string{"type"},
	)

	// EventsConsumed tracks events handled by the scoring consumer.
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_consumed_total",
			Help: "Total snapshot events consumed by result",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks connection pool utilization percentage.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)

	// DBBatchSize tracks multi-row insert sizes.
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_db_batch_size",
			Help:    "Number of rows per batch insert",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"operation"},
	)
)
