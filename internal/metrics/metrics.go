// Package metrics holds the Prometheus collectors shared by both services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videoroom_rooms_active",
		Help: "Rooms currently alive in this process.",
	})

	UsersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videoroom_users_active",
		Help: "Users currently admitted in this process.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "videoroom_tick_duration_seconds",
		Help:    "Wall time of one simulation tick.",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032},
	})

	JoinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoroom_join_failures_total",
		Help: "Rejected join attempts by reason.",
	}, []string{"reason"})

	MediaResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "videoroom_media_resources",
		Help: "Live media engine objects by kind.",
	}, []string{"kind"})

	SignalingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoroom_signaling_errors_total",
		Help: "Failed signaling calls by method.",
	}, []string{"method"})
)
