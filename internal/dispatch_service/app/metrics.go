package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of outbound jobs accepted into the queue.",
		},
		[]string{"kind"},
	)
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "job_attempts_total",
			Help:      "Outcomes of individual send attempts.",
		},
		[]string{"kind", "result"}, // result: completed, retry, failed
	)
	jobAttemptDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "job_attempt_duration_seconds",
			Help:      "Duration of a single send attempt, provider call included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	queuePausedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dispatcher",
			Name:      "queue_paused",
			Help:      "1 while job pickup is paused.",
		},
	)
	seedFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "delivery_seed_failures_total",
			Help:      "Sends accepted by the provider whose delivery record could not be created.",
		},
	)
	jobsCleanedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "jobs_cleaned_total",
			Help:      "Terminal jobs removed by retention cleanup.",
		},
		[]string{"state"},
	)
)
