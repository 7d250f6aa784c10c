package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	translateRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_translate_requests_total",
			Help: "Total number of natural-language translation requests.",
		},
	)
	translateAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_translate_attempts_total",
			Help: "Total number of LLM generation attempts, including retries.",
		},
	)
	translateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_translate_failures_total",
			Help: "Total number of translations that exhausted the attempt budget.",
		},
	)
	validationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_validation_failures_total",
			Help: "Total number of generated statements rejected by EXPLAIN validation.",
		},
	)
	translateLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querywright_translate_latency_ms",
			Help:    "End-to-end translation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000, 120000},
		},
	)
	knowledgeHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_knowledge_hits_total",
			Help: "Total number of knowledge-base entries retrieved into prompts.",
		},
	)
	knowledgeLearnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querywright_knowledge_learned_total",
			Help: "Total number of prompt/SQL pairs persisted to the knowledge base.",
		},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querywright_query_latency_ms",
			Help:    "Generated-SQL execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		translateRequestsTotal,
		translateAttemptsTotal,
		translateFailuresTotal,
		validationFailuresTotal,
		translateLatencyMs,
		knowledgeHitsTotal,
		knowledgeLearnedTotal,
		queryLatencyMs,
	)
}

func ObserveTranslate(attempts int, exhausted bool, elapsed time.Duration) {
	translateRequestsTotal.Inc()
	if attempts > 0 {
		translateAttemptsTotal.Add(float64(attempts))
	}
	if exhausted {
		translateFailuresTotal.Inc()
	}
	translateLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementValidationFailure() {
	validationFailuresTotal.Inc()
}

func ObserveKnowledgeHits(count int) {
	if count > 0 {
		knowledgeHitsTotal.Add(float64(count))
	}
}

func IncrementKnowledgeLearned() {
	knowledgeLearnedTotal.Inc()
}

func ObserveQueryLatency(elapsed time.Duration) {
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}
