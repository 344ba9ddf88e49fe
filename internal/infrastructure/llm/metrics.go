package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gowith_llm_calls_total",
			Help: "Text-completion calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gowith_llm_call_duration_seconds",
			Help:    "Latency of single text-completion attempts",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		},
		[]string{"provider"},
	)
)
