package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound provider send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name"},
	)
	ProviderResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provider",
			Name:      "send_results_total",
			Help:      "Provider send outcomes.",
		},
		[]string{"provider_name", "result"}, // result: success, transient_error, permanent_error, rejected
	)
	ProviderCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "provider",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"provider_name"},
	)
)
