package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsPublishedTotal counts new jobs, republished lineages included
	JobsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessq_jobs_published_total",
			Help: "Total number of jobs published",
		},
		[]string{"queue", "kind"},
	)

	JobsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessq_jobs_handled_total",
			Help: "Total number of jobs handed to a handler, by outcome",
		},
		[]string{"queue", "outcome"},
	)

	JobsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessq_jobs_deleted_total",
			Help: "Total number of jobs deleted or acknowledged",
		},
		[]string{"queue"},
	)

	JobsBuriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessq_jobs_buried_total",
			Help: "Total number of jobs buried",
		},
		[]string{"queue"},
	)

	JobsReanimatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessq_jobs_reanimated_total",
			Help: "Total number of buried jobs reanimated",
		},
		[]string{"queue"},
	)

	// HandlerDuration observes time spent inside handlers
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessq_handler_duration_seconds",
			Help:    "Time spent handling one job",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		},
		[]string{"queue"},
	)

	// JobsProcessable is the last observed count of eligible jobs
	JobsProcessable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lessq_jobs_processable",
			Help: "Number of jobs eligible for a claim",
		},
		[]string{"queue"},
	)

	JobsProcessing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lessq_jobs_processing",
			Help: "Number of jobs under a live lease, or broker consumers",
		},
		[]string{"queue"},
	)

	JobsBuried = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lessq_jobs_buried",
			Help: "Number of buried jobs",
		},
		[]string{"queue"},
	)
)
