package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ingestion pipeline.
// Metrics are organized by stage: extraction, normalization, deduplication,
// and load, plus run-level outcomes. All counters and histograms are
// registered via promauto with the provided registerer.
type Metrics struct {
	// RunsStarted counts pipeline runs initiated.
	RunsStarted prometheus.Counter

	// RunsCompleted counts runs that reached the done state, labeled by
	// outcome ("success", "partial").
	RunsCompleted *prometheus.CounterVec

	// RunsFailed counts runs that ended in the failed state, labeled by
	// the stage that failed.
	RunsFailed *prometheus.CounterVec

	// RunDuration observes end-to-end run duration in seconds.
	RunDuration prometheus.Histogram

	// StageRetries counts stage retry attempts, labeled by stage.
	StageRetries *prometheus.CounterVec

	// PagesFetched counts raw pages fetched and captured.
	PagesFetched prometheus.Counter

	// RecordsExtracted counts raw records parsed out of fetched pages.
	RecordsExtracted prometheus.Counter

	// SourceRequests counts HTTP requests to the source API, labeled by status class.
	SourceRequests *prometheus.CounterVec

	// SourceRequestDuration observes source API request duration in seconds.
	SourceRequestDuration prometheus.Histogram

	// SourceRateLimited counts rate-limited (429) responses from the source API.
	SourceRateLimited prometheus.Counter

	// RecordsNormalized counts records normalized.
	RecordsNormalized prometheus.Counter

	// QualityFlagged counts records with a quality flag set, labeled by flag.
	QualityFlagged *prometheus.CounterVec

	// DuplicatesCollapsed counts records merged away during deduplication.
	DuplicatesCollapsed prometheus.Counter

	// DedupGroups observes the distribution of duplicate group sizes.
	DedupGroups prometheus.Histogram

	// RowsLoaded counts rows applied to the works table, labeled by
	// outcome ("inserted", "updated", "failed").
	RowsLoaded *prometheus.CounterVec

	// LoadBatchDuration observes per-batch load transaction duration in seconds.
	LoadBatchDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized
// and registered with the default Prometheus registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered with a custom
// registerer. Tests use this with a fresh registry to avoid duplicate
// registration panics.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of pipeline runs started",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of pipeline runs completed, by outcome",
		}, []string{"outcome"}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of pipeline runs failed, by stage",
		}, []string{"stage"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Total number of stage retry attempts, by stage",
		}, []string{"stage"}),

		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of raw pages fetched and captured",
		}),
		RecordsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Total number of raw records parsed from fetched pages",
		}),
		SourceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to the source API, by status class",
		}, []string{"status"}),
		SourceRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of source API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SourceRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate-limited responses from the source API",
		}),

		RecordsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Total number of records normalized",
		}),
		QualityFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_flagged_total",
			Help:      "Total number of records with a quality flag set, by flag",
		}, []string{"flag"}),

		DuplicatesCollapsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_collapsed_total",
			Help:      "Total number of records merged away during deduplication",
		}),
		DedupGroups: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_group_size",
			Help:      "Distribution of duplicate group sizes",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 100},
		}),

		RowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Total number of rows applied to the works table, by outcome",
		}, []string{"outcome"}),
		LoadBatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_batch_duration_seconds",
			Help:      "Duration of load batch transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveQualityFlags records quality-flag counters for a normalized record.
func (m *Metrics) ObserveQualityFlags(missingTitle, missingDOI, missingJournal, missingAuthors bool) {
	if missingTitle {
		m.QualityFlagged.WithLabelValues("missing_title").Inc()
	}
	if missingDOI {
		m.QualityFlagged.WithLabelValues("missing_doi").Inc()
	}
	if missingJournal {
		m.QualityFlagged.WithLabelValues("missing_journal").Inc()
	}
	if missingAuthors {
		m.QualityFlagged.WithLabelValues("missing_authors").Inc()
	}
}
