package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Name:      "http_attempts_total",
			Help:      "HTTP attempts by mechanism and outcome kind.",
		},
		[]string{"mechanism", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketsync_client",
			Name:      "request_duration_seconds",
			Help:      "Wall time of logical requests including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Name:      "fallback_replays_total",
			Help:      "Requests replayed through the fallback mechanism.",
		},
	)

	authFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Name:      "auth_failures_total",
			Help:      "Authorization failures that cleared local credentials.",
		},
	)
)
