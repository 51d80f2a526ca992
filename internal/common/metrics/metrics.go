package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_transitions_total",
			Help: "Total number of content status transitions",
		},
		[]string{"change_type"},
	)

	SweepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_sweep_outcomes_total",
			Help: "Scheduled publication sweep results by outcome",
		},
		[]string{"outcome"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "scheduler_sweep_duration_seconds",
			Help: "Duration of a scheduled publication sweep",
		},
	)

	FanoutRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_routed_total",
			Help: "Subscribers routed on publish, by route taken",
		},
		[]string{"route"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Notification delivery attempts by channel and result",
		},
		[]string{"channel", "status"},
	)

	DigestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digests_sent_total",
			Help: "Digest notifications assembled and sent",
		},
		[]string{"digest_type"},
	)
)
