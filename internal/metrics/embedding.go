package metrics

import "github.com/prometheus/client_golang/prometheus"

// Embedding and pipeline Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "embedpipe",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "embedding_errors_total",
			Help:      "Total embedding errors",
		},
		[]string{"provider", "model", "error_type"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "quota_denials_total",
			Help:      "Quota reserve denials per window",
		},
		[]string{"provider", "quota_type"},
	)

	QuotaStoreDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "embedpipe",
			Name:      "quota_store_degraded",
			Help:      "1 when quota accounting runs on in-memory fallback",
		},
	)

	BackoffSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "backoff_seconds_total",
			Help:      "Cumulative backoff delay imposed after failed requests",
		},
		[]string{"provider"},
	)

	ActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "embedpipe",
			Name:      "active_requests",
			Help:      "In-flight embedding provider requests",
		},
		[]string{"provider"},
	)

	BatchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "batch_jobs_total",
			Help:      "Batch jobs by terminal status",
		},
		[]string{"status"},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedpipe",
			Name:      "batch_items_total",
			Help:      "Batch items by outcome",
		},
		[]string{"outcome"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be
// called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingTokensTotal)
	prometheus.MustRegister(EmbeddingErrorsTotal)
	prometheus.MustRegister(QuotaDenialsTotal)
	prometheus.MustRegister(QuotaStoreDegraded)
	prometheus.MustRegister(BackoffSecondsTotal)
	prometheus.MustRegister(ActiveRequests)
	prometheus.MustRegister(BatchJobsTotal)
	prometheus.MustRegister(BatchItemsTotal)
	pipelineMetricsRegistered = true
}
