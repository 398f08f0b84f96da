package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts processed document events by subject and result.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Document events processed by subject and result",
		},
		[]string{"subject", "result"},
	)

	// RetriesTotal counts retried embedding failures.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "events",
			Name:      "retries_total",
			Help:      "Document event retries after transient embedding failures",
		},
	)
)
