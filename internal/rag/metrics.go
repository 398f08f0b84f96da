package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexOperationsTotal counts indexer operations.
	// Labels: operation (reindex, remove), result (success, error)
	IndexOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "rag",
			Name:      "index_operations_total",
			Help:      "Total number of reindex and remove operations",
		},
		[]string{"operation", "result"},
	)

	// AnswersTotal counts answer requests by outcome.
	// Labels: result (success, invalid_query, embedding_error, generation_error, error)
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total number of answer requests",
		},
		[]string{"result"},
	)

	// AnswerDuration tracks end-to-end answer latency.
	AnswerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "rag",
			Name:      "answer_duration_seconds",
			Help:      "Duration of answer requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// RetrievedPassages tracks how many passages ground each answer.
	RetrievedPassages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "rag",
			Name:      "retrieved_passages",
			Help:      "Number of passages retrieved per query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		},
	)
)

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}
