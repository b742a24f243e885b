package livechannel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketsync_client",
			Subsystem: "livechannel",
			Name:      "active_subscriptions",
			Help:      "Subscriptions not yet closed.",
		},
	)

	dialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "livechannel",
			Name:      "dials_total",
			Help:      "Push channel open attempts by outcome.",
		},
		[]string{"outcome"},
	)

	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "livechannel",
			Name:      "state_transitions_total",
			Help:      "Subscription state transitions by target state.",
		},
		[]string{"state"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "livechannel",
			Name:      "events_total",
			Help:      "Pushed events by normalized kind.",
		},
		[]string{"kind"},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "livechannel",
			Name:      "polls_total",
			Help:      "Degraded-mode polls by topic kind.",
		},
		[]string{"topic"},
	)
)
