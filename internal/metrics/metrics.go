// Package metrics provides Prometheus metrics for the corpus engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the corpus engine
type Metrics struct {
	// Ingestion metrics
	JobsTotal         prometheus.CounterVec
	IngestionDuration prometheus.Histogram
	ActiveJobs        prometheus.Gauge
	ChunksStored      prometheus.Counter
	ImagesStored      prometheus.Counter

	// Embedding metrics
	EmbeddingBatches  prometheus.Counter
	EmbeddingDuration prometheus.Histogram

	// Store metrics
	ExecuteDuration prometheus.Histogram
	Reconnects      prometheus.Counter

	// Search metrics
	SearchRequests prometheus.CounterVec
	SearchDuration prometheus.HistogramVec
	SearchErrors   prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics creates all corpus-engine metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in binaries; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_ingestion_jobs_total",
			Help: "Total number of ingestion jobs by terminal status",
		}, []string{"status"}),
		IngestionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_ingestion_duration_seconds",
			Help:    "Duration of ingestion jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "corpus_active_ingestions",
			Help: "Number of currently active ingestion jobs",
		}),
		ChunksStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_chunks_stored_total",
			Help: "Total number of chunk rows written",
		}),
		ImagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_images_stored_total",
			Help: "Total number of image rows written",
		}),
		EmbeddingBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_embedding_batches_total",
			Help: "Total number of embedding batches issued",
		}),
		EmbeddingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_embedding_duration_seconds",
			Help:    "Duration of embedding batch calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		}),
		ExecuteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_store_execute_duration_seconds",
			Help:    "Duration of vector-store statements in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_store_reconnects_total",
			Help: "Total number of vector-store reconnects after transient errors",
		}),
		SearchRequests: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_search_requests_total",
			Help: "Total number of search requests by kind",
		}, []string{"kind"}),
		SearchDuration: *factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_search_duration_seconds",
			Help:    "Duration of search operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}, []string{"kind"}),
		SearchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_search_errors_total",
			Help: "Total number of search errors",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_cache_hits_total",
			Help: "Total number of search cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_cache_misses_total",
			Help: "Total number of search cache misses",
		}),
	}
}

// RecordJob records a finished ingestion job.
func (m *Metrics) RecordJob(status string, durationSeconds float64) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.IngestionDuration.Observe(durationSeconds)
}

// RecordSearch records a search operation.
func (m *Metrics) RecordSearch(kind string, durationSeconds float64, err error) {
	m.SearchRequests.WithLabelValues(kind).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(durationSeconds)

	if err != nil {
		m.SearchErrors.Inc()
	}
}
