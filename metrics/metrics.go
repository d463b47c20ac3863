// Package metrics defines the Prometheus collectors of brkmon. Collectors
// are registered by the program which uses them (see BrkmonCollectors).
//
// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for brkmon metrics.
const (
	Fail = "fail"
	Ok   = "ok"

	WriteStatusKey     = "status"
	DuplicateStatusKey = "duplicate_status"
	OutcomeKey         = "outcome"
)

// Collectors of billstore.Store.
var (
	WritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_writes_total",
		Help: "Cumulative number of record writes, by write status and duplicate classification.",
	}, []string{WriteStatusKey, DuplicateStatusKey})
	ClassificationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brkmon_classification_failures_total",
		Help: "Cumulative number of duplicate classifications which failed and defaulted to NORMAL.",
	})
	SyncPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_sync_pushes_total",
		Help: "Cumulative number of pushes of the database to the remote store, by outcome.",
	}, []string{OutcomeKey})
	SyncPushBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "brkmon_sync_push_bytes_total",
		Help: "Cumulative number of encoded database bytes pushed to the remote store.",
	})
	SyncPushDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "brkmon_sync_push_duration_seconds",
		Help:    "Duration of pushes of the database to the remote store.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3m.
	})
	StoreFallbackMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "brkmon_store_fallback_mode",
		Help: "1 if the bill store operates from the local fallback database, and 0 if it's remote-backed.",
	})
)

// Collectors of the ingest pipeline and its collaborators.
var (
	IngestDocumentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_ingest_documents_total",
		Help: "Cumulative number of fetched documents, by outcome (written, skipped, failed).",
	}, []string{OutcomeKey})
	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_alerts_total",
		Help: "Cumulative number of consumption alerts dispatched, by outcome.",
	}, []string{OutcomeKey})
	ReportsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brkmon_reports_published_total",
		Help: "Cumulative number of monthly reports published, by outcome.",
	}, []string{OutcomeKey})
)

// BrkmonCollectors lists collectors used by brkmon.
func BrkmonCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		WritesTotal,
		ClassificationFailuresTotal,
		SyncPushesTotal,
		SyncPushBytesTotal,
		SyncPushDurationSeconds,
		StoreFallbackMode,
		IngestDocumentsTotal,
		AlertsTotal,
		ReportsPublishedTotal,
	}
}
