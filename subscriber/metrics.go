package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubsub_polls_total",
		Help: "The total number of polls, labelled by how they ended",
	}, []string{"outcome"})

	ticksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_ticks_dropped_total",
		Help: "The total number of poll ticks dropped because a poll was already running",
	})

	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_events_delivered_total",
		Help: "The total number of events dispatched to every consumer",
	})

	pagesVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_pages_visited_total",
		Help: "The total number of feed pages fetched while polling",
	})

	consumerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_consumer_failures_total",
		Help: "The total number of polls aborted by a failing consumer",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubsub_poll_duration_seconds",
		Help:    "Duration of polls that passed the precondition gate",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms up to ~40s
	})

	pollRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hubsub_poll_running",
		Help: "1 while a poll is in progress",
	})
)
