package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MallinfoQueriesTotal counts stats queries by operation
	MallinfoQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mallinfo_queries_total",
			Help: "Total number of allocator stats queries",
		},
		[]string{"op"}, // "global", "arena", "bin"
	)

	// MallinfoQueryDuration measures how long stats traversals take
	MallinfoQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mallinfo_query_duration_seconds",
			Help:    "Duration of allocator stats queries",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"op"},
	)

	// MallinfoZeroResultsTotal counts queries answered with a zero snapshot
	MallinfoZeroResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mallinfo_zero_results_total",
			Help: "Total number of stats queries answered with a zero snapshot",
		},
		[]string{"op", "reason"}, // reason: "out_of_range", "empty_slot"
	)
)

// =============================================================================
// Exporter Metrics
// =============================================================================

var (
	ExporterScrapesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_exporter_scrapes_total",
			Help: "Total number of Prometheus collector scrapes",
		},
	)

	ExporterDumpRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_exporter_dump_rows_total",
			Help: "Total number of snapshot rows written to Parquet dumps",
		},
	)

	ExporterDumpErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_exporter_dump_errors_total",
			Help: "Total number of failed Parquet snapshot dumps",
		},
	)

	DiagRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mallinfo_diag_requests_total",
			Help: "Total number of diagnostics endpoint requests",
		},
		[]string{"route", "code"},
	)
)

// =============================================================================
// Workload Metrics
// =============================================================================

var (
	WorkloadBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mallinfo_workload_batches_total",
			Help: "Total number of synthetic workload batches built",
		},
	)
)
