package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CasesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uw_cases_created_total",
		Help: "Total number of underwriting cases opened.",
	})

	SignalsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uw_signals_submitted_total",
		Help: "Total number of signals accepted, labelled by category and derived severity.",
	}, []string{"category", "severity"})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uw_signals_rejected_total",
		Help: "Total number of observations rejected, labelled by error code.",
	}, []string{"code"})

	IntakeEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uw_intake_enqueued_total",
		Help: "Total number of observations placed on the async intake queue.",
	})

	IntakeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uw_intake_dropped_total",
		Help: "Total number of observations rejected due to a full intake queue.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uw_transitions_total",
		Help: "Total number of transition attempts, labelled by action and outcome.",
	}, []string{"action", "outcome"})

	Recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uw_recommendations_total",
		Help: "Total number of recommendations synthesized, labelled by action.",
	}, []string{"action"})

	ConcurrentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uw_concurrent_modifications_total",
		Help: "Total number of mutations rejected because the case changed underneath them.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uw_event_publish_failures_total",
		Help: "Total number of transition events that could not be published.",
	})

	PolicyReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uw_policy_reloads_total",
		Help: "Total number of policy reload attempts, labelled by result.",
	}, []string{"result"})

	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uw_mutation_duration_ms",
		Help:    "Case mutation latency (lock wait, recompute and store) in milliseconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"operation"})

	CompositeScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uw_composite_score",
		Help:    "Distribution of recomputed composite risk scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uw_intake_queue_utilization_ratio",
		Help: "Current async intake queue utilization (0–1).",
	})
)
