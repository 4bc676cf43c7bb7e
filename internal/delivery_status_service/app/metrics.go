package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery_status",
			Name:      "events_applied_total",
			Help:      "Status reports applied to delivery records.",
		},
		[]string{"status", "outcome"}, // outcome: advanced, duplicate, regressed, orphan
	)
	recordsSeededCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delivery_status",
			Name:      "records_seeded_total",
			Help:      "Delivery records created after provider acceptance.",
		},
	)
	recordsPurgedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "delivery_status",
			Name:      "records_purged_total",
			Help:      "Delivery records removed by retention purge.",
		},
	)
)
