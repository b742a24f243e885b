package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "notifications",
			Name:      "recomputes_total",
			Help:      "Aggregate recomputations by outcome (ok, partial, failed).",
		},
		[]string{"outcome"},
	)

	sourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "notifications",
			Name:      "source_failures_total",
			Help:      "Failed source fetches during recomputation.",
		},
		[]string{"source"},
	)

	rollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Subsystem: "notifications",
			Name:      "rollbacks_total",
			Help:      "Optimistic updates undone after the server refused them.",
		},
		[]string{"operation"},
	)
)
