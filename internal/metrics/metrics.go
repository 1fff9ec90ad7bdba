// Package metrics declares the Prometheus collectors DBX exposes for
// each storage tier, grounded on bun-kms's internal/metrics (promauto
// package-level CounterVec/HistogramVec/GaugeVec registered against the
// default registry) and cuemby-warren's pkg/metrics for the
// latency-histogram naming convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TxnCommitsTotal counts committed and aborted transactions by
	// outcome (spec.md §4.6).
	TxnCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbx_txn_commits_total",
			Help: "Total number of transaction commit attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TxnCommitDuration is the latency of Manager.Commit, from validation
	// through apply (spec.md §4.6 "Apply order on commit").
	TxnCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbx_txn_commit_duration_seconds",
			Help:    "Transaction commit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WALAppendsTotal counts WAL record appends by kind (spec.md §4.1).
	WALAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbx_wal_appends_total",
			Help: "Total number of WAL records appended by kind",
		},
		[]string{"kind"},
	)

	// WALBytesWritten tracks WAL payload volume by partition, used to
	// spot hot table partitions (spec.md §4.1 "Partitioning").
	WALBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbx_wal_bytes_written_total",
			Help: "Total bytes of WAL payload written by partition",
		},
		[]string{"partition"},
	)

	// DeltaRows tracks the Delta Store's current row count per table,
	// the signal the flush scheduler's row-threshold trigger watches
	// (spec.md §4.2 "Flush trigger").
	DeltaRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbx_delta_rows",
			Help: "Current Delta Store row count by table",
		},
		[]string{"table"},
	)

	// DeltaBytes tracks the Delta Store's current approximate byte
	// footprint per table.
	DeltaBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbx_delta_bytes",
			Help: "Current Delta Store approximate byte footprint by table",
		},
		[]string{"table"},
	)

	// ColumnarBytes tracks the Columnar Cache's current byte footprint,
	// the signal its backpressure gate blocks writers on (spec.md §4.3
	// "Backpressure").
	ColumnarBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbx_columnar_bytes",
			Help: "Current Columnar Cache approximate byte footprint by table",
		},
		[]string{"table"},
	)

	// FlushesTotal counts Delta->WOS flushes by table and outcome
	// (spec.md §4.4).
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbx_flushes_total",
			Help: "Total number of Delta-to-WOS flushes by table and outcome",
		},
		[]string{"table", "outcome"},
	)

	// FlushDuration is per-table flush latency.
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbx_flush_duration_seconds",
			Help:    "Delta-to-WOS flush latency in seconds by table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// ROSPromotionsTotal counts WOS->ROS segment promotions by table
	// (spec.md §4.7 step 3).
	ROSPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbx_ros_promotions_total",
			Help: "Total number of WOS-to-ROS segment promotions by table",
		},
		[]string{"table"},
	)

	// CompactionQueueDepth tracks how many pending tasks sit in each
	// compaction priority queue (spec.md §4.7 "Scheduling discipline").
	CompactionQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbx_compaction_queue_depth",
			Help: "Pending compaction tasks by queue kind",
		},
		[]string{"kind"},
	)

	// GCWatermark exposes the current snapshot-registry GC watermark as
	// a raw timestamp value (spec.md §4.6 "Snapshot registry").
	GCWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbx_gc_watermark",
			Help: "Current minimum active read_ts across live snapshots",
		},
	)
)
