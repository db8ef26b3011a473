// Package monitoring holds the process-wide Prometheus collectors.
// Collectors are registered once on the default registry and shared by
// reference; label cardinality is kept to tenant/sink/task dimensions.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_files_scanned_total",
		Help: "Files processed by scan workers.",
	}, []string{"tenant"})

	FilesErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_files_errored_total",
		Help: "Files that failed to read or parse during scanning.",
	}, []string{"tenant"})

	EntitiesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_entities_detected_total",
		Help: "Resolved entities found across all scans.",
	}, []string{"tenant"})

	ScanJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scanner_scan_job_duration_seconds",
		Help:    "Wall time of scan jobs from start to terminal status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"mode"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_jobs_completed_total",
		Help: "Queue jobs finished, by task type and outcome.",
	}, []string{"task_type", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_queue_depth",
		Help: "Pending jobs in the work queue.",
	})

	EventsHarvested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_access_events_harvested_total",
		Help: "Access events persisted, by provider.",
	}, []string{"provider"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_access_events_dropped_total",
		Help: "Access events dropped because the stream buffer was full.",
	})

	CatalogRowsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_catalog_rows_flushed_total",
		Help: "Rows written to parquet, by catalog table.",
	}, []string{"table"})

	ExportBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_siem_export_batches_total",
		Help: "SIEM export batches, by sink and outcome.",
	}, []string{"sink", "outcome"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanner_siem_circuit_open",
		Help: "1 when a sink circuit breaker is open.",
	}, []string{"sink"})

	PoliciesViolated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanner_policy_violations_total",
		Help: "Policy matches recorded on scan results.",
	}, []string{"tenant", "framework"})
)
