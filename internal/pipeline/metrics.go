package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "echotwin",
			Name:      "ticks_total",
			Help:      "Total pipeline ticks started",
		},
	)

	usersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echotwin",
			Name:      "users_processed_total",
			Help:      "Per-user pipeline runs by outcome",
		},
		[]string{"outcome"}, // "completed", "halted", "skipped", "failed"
	)

	repliesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "echotwin",
			Name:      "replies_published_total",
			Help:      "Total replies published",
		},
	)

	castsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echotwin",
			Name:      "casts_skipped_total",
			Help:      "Casts left unpublished by reason",
		},
		[]string{"reason"}, // "empty_generation", "invalid_input", "publish_transient", "credential_invalid"
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "echotwin",
			Name:      "generation_duration_seconds",
			Help:      "Duration of reply generation calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "echotwin",
			Name:      "tick_duration_seconds",
			Help:      "Duration of full pipeline ticks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)
