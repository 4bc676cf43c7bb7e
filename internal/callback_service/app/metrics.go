package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callback",
			Name:      "requests_total",
			Help:      "Provider callbacks by ingestion result.",
		},
		[]string{"result"}, // accepted, unauthorized, malformed, error
	)
	statusUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callback",
			Name:      "status_updates_total",
			Help:      "Status updates extracted from callbacks.",
		},
		[]string{"result"}, // applied, orphan, error
	)
	inboundMessagesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callback",
			Name:      "inbound_messages_total",
			Help:      "Inbound user messages handed to the inbound sink.",
		},
	)
)
