package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthchat_translations_total",
			Help: "Total number of question translations by outcome.",
		},
		[]string{"outcome"},
	)
	translationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthchat_translation_retries_total",
			Help: "Total number of backoff retries after upstream rate limiting.",
		},
	)
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthchat_cache_hits_total",
			Help: "Total number of query cache hits by level (sql, result).",
		},
		[]string{"level"},
	)
	cooldownRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "healthchat_cooldown_rejections_total",
			Help: "Total number of questions short-circuited by the client-side cooldown.",
		},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthchat_query_executions_total",
			Help: "Total number of SQL executions against the local store by status.",
		},
		[]string{"status"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthchat_query_duration_ms",
			Help:    "Local store query latency in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
	storeRowsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthchat_store_rows_loaded",
			Help: "Rows loaded into the local store by the last bootstrap.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		translationsTotal,
		translationRetriesTotal,
		cacheHitsTotal,
		cooldownRejectionsTotal,
		queryExecutionsTotal,
		queryDurationMs,
		storeRowsLoaded,
	)
}

func ObserveTranslation(outcome string) {
	translationsTotal.WithLabelValues(outcome).Inc()
}

func ObserveTranslationRetry() {
	translationRetriesTotal.Inc()
}

func ObserveCacheHit(level string) {
	cacheHitsTotal.WithLabelValues(level).Inc()
}

func IncrementCooldownRejection() {
	cooldownRejectionsTotal.Inc()
}

func ObserveQueryExecution(err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queryExecutionsTotal.WithLabelValues(status).Inc()
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func SetStoreRowsLoaded(rows int64) {
	if rows < 0 {
		rows = 0
	}
	storeRowsLoaded.Set(float64(rows))
}
