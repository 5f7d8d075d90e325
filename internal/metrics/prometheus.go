package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docquery_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"path"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquery_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docquery_retrieval_results_count",
			Help:    "Number of retrieved chunks per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docquery_documents_ingested_total",
			Help: "Total documents ingested",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docquery_chunks_indexed_total",
			Help: "Total chunks indexed",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquery_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquery_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ChunksIndexed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
