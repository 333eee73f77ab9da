package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the impression engine.
type Metrics struct {
	// Ingestion metrics
	EventsIngested  *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	ChunksProcessed prometheus.Counter
	MergeRetries    prometheus.Counter
	IngestLatency   prometheus.Histogram

	// Rollup metrics
	RollupsMerged   prometheus.Counter
	ReachTokensSeen prometheus.Counter

	// Report metrics
	ReportQueries *prometheus.CounterVec
	ReportLatency prometheus.Histogram

	// Drain job metrics
	DetectionsDrained  prometheus.Counter
	DetectionsArchived prometheus.Counter
	DrainRuns          *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Detection events folded into rollups",
			},
			[]string{"object_type"},
		),
		EventsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_failed_total",
				Help:      "Detection events skipped during ingestion",
			},
			[]string{"reason"},
		),
		ChunksProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_chunks_total",
				Help:      "Ingestion chunks committed",
			},
		),
		MergeRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_retries_total",
				Help:      "Bucket merge retries due to storage contention",
			},
		),
		IngestLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Batch ingestion latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		RollupsMerged: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollups_merged_total",
				Help:      "Bucket deltas applied to the rollup store",
			},
		),
		ReachTokensSeen: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reach_tokens_total",
				Help:      "Reach tokens registered (pre-dedup)",
			},
		),
		ReportQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_queries_total",
				Help:      "Report queries by outcome",
			},
			[]string{"status"}, // ok, no_data, bad_request, error
		),
		ReportLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_latency_seconds",
				Help:      "Report computation latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		DetectionsDrained: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_drained_total",
				Help:      "Staged detections consumed by the drain job",
			},
		),
		DetectionsArchived: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_archived_total",
				Help:      "Detections written to the archive sink",
			},
		),
		DrainRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drain_runs_total",
				Help:      "Drain job runs by outcome",
			},
			[]string{"status"}, // ok, error
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIngest records the outcome of one ingestion batch.
func (m *Metrics) RecordIngest(latency time.Duration) {
	m.IngestLatency.Observe(latency.Seconds())
}

// RecordEvent records a successfully folded event.
func (m *Metrics) RecordEvent(objectType string) {
	m.EventsIngested.WithLabelValues(objectType).Inc()
}

// RecordEventFailure records a skipped event.
func (m *Metrics) RecordEventFailure(reason string) {
	m.EventsFailed.WithLabelValues(reason).Inc()
}

// RecordMergeRetry records one bucket merge retry after storage contention.
func (m *Metrics) RecordMergeRetry() {
	m.MergeRetries.Inc()
}

// RecordReport records a report query outcome.
func (m *Metrics) RecordReport(status string, latency time.Duration) {
	m.ReportQueries.WithLabelValues(status).Inc()
	m.ReportLatency.Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
