// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics
	PollCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sinfarwatch_poll_cycles_total",
		Help: "The total number of completed poll cycles.",
	})
	PollCycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sinfarwatch_poll_cycle_errors_total",
		Help: "The total number of poll cycles aborted by fetch or parse errors.",
	})
	PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sinfarwatch_poll_cycle_duration_seconds",
		Help:    "Duration of poll cycles including store flushes.",
		Buckets: prometheus.DefBuckets,
	})
	LastPollSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sinfarwatch_last_poll_success_timestamp_seconds",
		Help: "Unix time of the last successful poll; staleness indicator.",
	})

	// Presence metrics
	OnlinePlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sinfarwatch_online_players",
		Help: "The current number of online players.",
	})
	OnlineCharacters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sinfarwatch_online_characters",
		Help: "The current number of online characters.",
	})
	EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sinfarwatch_evictions_total",
		Help: "The total number of entity records evicted from memory.",
	})

	// Store metrics
	QueueFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sinfarwatch_queue_flushes_total",
		Help: "The total number of write-behind queue flushes per collection.",
	}, []string{"collection"})
	StoreWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sinfarwatch_store_write_errors_total",
		Help: "The total number of failed store writes per operation.",
	}, []string{"operation"})

	// Bio fetch metrics
	BioRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sinfarwatch_bio_requests_in_flight",
		Help: "The current number of outstanding character bio fetches.",
	})
)
