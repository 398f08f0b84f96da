package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts generation calls by result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Generation calls by result (success, error, rejected)",
		},
		[]string{"result"},
	)

	// RequestDuration observes generation latency.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "generation",
			Name:      "request_duration_seconds",
			Help:      "Generation call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coursechat",
			Subsystem: "generation",
			Name:      "breaker_state",
			Help:      "Generation circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)
