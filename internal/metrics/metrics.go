// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_ingest_envelopes_total",
			Help: "Envelopes handled by the ingestion driver, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	EnvelopeBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_ingest_envelope_bytes_total",
			Help: "Total bytes of raw payload ingested",
		},
	)

	BatchesAborted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_ingest_batches_aborted_total",
			Help: "Batches stopped early because the store was unavailable",
		},
	)

	// Merge metrics
	ChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_merge_changes_total",
			Help: "Changes applied by the merge engine, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_merge_duration_seconds",
			Help:    "Duration of single merge operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_store_errors_total",
			Help: "Repository errors by operation",
		},
		[]string{"operation"},
	)

	// Dead-letter queue
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_dlq_writes_total",
			Help: "Envelopes written to the dead-letter queue, by reason",
		},
		[]string{"reason"},
	)

	// Read/write API
	OutgoingMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_outgoing_messages_total",
			Help: "Outgoing message submissions by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
