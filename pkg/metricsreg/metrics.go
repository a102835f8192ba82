// Package metricsreg declares the Prometheus collectors the pipeline
// exposes and constructs them against an injectable registerer, so tests
// can use a private registry instead of the global default and run in
// parallel without collector-name collisions.
package metricsreg

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the pipeline updates. Components take a
// *Registry as a constructor argument rather than reaching for
// prometheus.DefaultRegisterer directly.
type Registry struct {
	LedgerStateCount   *prometheus.GaugeVec
	OversizeDropped    prometheus.Counter
	UnsupportedDropped prometheus.Counter
	QueueDepth         prometheus.Gauge
	DebounceCoalesced  prometheus.Counter
	SkippedDuplicate   prometheus.Counter
	ParseDuration      *prometheus.HistogramVec
	ExtractConfidence  prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	IndexFailures      prometheus.Counter
	IndexRetries       prometheus.Counter
	ReconcileFindings  *prometheus.CounterVec
	LLMCallDuration    *prometheus.HistogramVec
	LLMRateLimited     prometheus.Counter
}

// New registers every collector against prometheus.DefaultRegisterer.
func New(serviceName string) *Registry {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector against the given registerer.
// Tests pass a fresh prometheus.NewRegistry() to avoid collisions with
// other tests in the same process.
func NewWithRegistry(serviceName string, reg prometheus.Registerer) *Registry {
	factory := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg)

	r := &Registry{
		LedgerStateCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_state_count",
			Help: "Current number of FileRecords in each ledger state.",
		}, []string{"state"}),
		OversizeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_oversize_dropped_total",
			Help: "Files dropped by discovery for exceeding max_file_size_mb.",
		}),
		UnsupportedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_unsupported_dropped_total",
			Help: "Files dropped by discovery for an unsupported extension.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_work_depth",
			Help: "Current depth of the bounded work queue.",
		}),
		DebounceCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debounce_coalesced_total",
			Help: "Discovery events coalesced into an existing debounce window.",
		}),
		SkippedDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debounce_skipped_duplicate_total",
			Help: "Settled work items skipped because they matched an existing terminal ledger record.",
		}),
		ParseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parser_duration_seconds",
			Help:    "Parser wall-clock duration by file extension.",
			Buckets: prometheus.DefBuckets,
		}, []string{"extension"}),
		ExtractConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extract_overall_confidence",
			Help:    "Distribution of per-document overall_confidence.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.85, 0.9, 0.95, 1.0},
		}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistence_errors_total",
			Help: "PersistenceWriter failures by error kind.",
		}, []string{"kind"}),
		IndexFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_failures_total",
			Help: "Documents that failed to embed after all retry attempts.",
		}),
		IndexRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_retries_total",
			Help: "Retry attempts made by the IndexerWorker retry sweep.",
		}),
		ReconcileFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_findings_total",
			Help: "ReconciliationFinding counts by type and status.",
		}, []string{"type", "status"}),
		LLMCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLMClient call duration by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LLMRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_rate_limited_total",
			Help: "LLMClient calls that observed a RateLimited response.",
		}),
	}

	factory.MustRegister(
		r.LedgerStateCount,
		r.OversizeDropped,
		r.UnsupportedDropped,
		r.QueueDepth,
		r.DebounceCoalesced,
		r.SkippedDuplicate,
		r.ParseDuration,
		r.ExtractConfidence,
		r.PersistErrors,
		r.IndexFailures,
		r.IndexRetries,
		r.ReconcileFindings,
		r.LLMCallDuration,
		r.LLMRateLimited,
	)

	return r
}
