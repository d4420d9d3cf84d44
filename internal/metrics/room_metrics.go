package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rooms_active",
		Help: "Number of rooms currently registered",
	})

	RoomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rooms_created_total",
		Help: "Total number of rooms created",
	})

	ParticipantsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "participants_active",
		Help: "Number of participants that completed the join protocol and have not left",
	})

	JoinDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "join_duration_seconds",
		Help:    "Histogram of join protocol duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	JoinFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "join_failed_total",
		Help: "Total number of rolled back joins by failing step",
	}, []string{"step"})

	BarrierWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barrier_waits_total",
		Help: "Total number of barrier waits by transition and outcome",
	}, []string{"transition", "outcome"})

	StreamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_failures_total",
		Help: "Total number of media engine reported stream failures by kind",
	}, []string{"kind"})
)
