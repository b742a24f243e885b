package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketsync_client",
			Name:      "open_views",
			Help:      "Chats and notification feeds not yet closed.",
		},
	)

	queuedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketsync_client",
			Name:      "read_receipt_failures_total",
			Help:      "Queued read receipts that were dropped after failing.",
		},
	)
)
