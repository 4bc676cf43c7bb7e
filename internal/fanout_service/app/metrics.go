package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fanout",
			Name:      "events_published_total",
			Help:      "Status change events handed to the publisher.",
		},
	)
	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fanout",
			Name:      "subscriber_deliveries_total",
			Help:      "Event deliveries to individual subscribers.",
		},
		[]string{"result"}, // delivered, dropped
	)
	subscriptionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fanout",
			Name:      "subscriptions",
			Help:      "Current number of topic subscriptions.",
		},
	)
)
