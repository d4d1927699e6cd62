package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapedit"

var (
	// RetryAttempts counts every attempt made by the retry executor, by operation and outcome.
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Attempts made by the retry executor, labelled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// PassthroughPreparations counts source images sent to the provider without re-encoding.
	PassthroughPreparations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_passthrough_total",
			Help:      "Source images forwarded without channel normalisation.",
		},
	)

	EditOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_outcomes_total",
			Help:      "Edit requests finished by the orchestrator, labelled by final status.",
		},
		[]string{"status"},
	)

	TransformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Wall time of a complete transformation, retries included.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"pipeline"},
	)
)

func init() {
	prometheus.MustRegister(RetryAttempts, PassthroughPreparations, EditOutcomes, TransformDuration)
}
