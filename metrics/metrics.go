// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Polling metrics
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_cycles_total",
			Help: "Total completed polling cycles",
		},
	)

	LastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_last_cycle_timestamp_seconds",
			Help: "Unix time the last polling cycle finished",
		},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_fetch_errors_total",
			Help: "Channel fetches that failed",
		},
		[]string{"channel", "reason"}, // reason: "unauthorized" or "backend"
	)

	MessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_messages_fetched_total",
			Help: "Messages read inside the lookback window",
		},
		[]string{"channel"},
	)

	MatchesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_matches_total",
			Help: "Messages that matched a keyword",
		},
		[]string{"channel"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifier_fetch_duration_seconds",
			Help:    "Time spent reading one channel",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Delivery metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Delivery attempts by provider and result",
		},
		[]string{"provider", "result"}, // result: "success" or "failure"
	)
)
