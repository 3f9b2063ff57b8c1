package manager

import (
	"github.com/prometheus/client_golang/prometheus"

	"embedd/internal/queue"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "infer",
			Name:      "requests_total",
			Help:      "Inference requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	inputsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "infer",
			Name:      "inputs_total",
			Help:      "Inputs accepted for inference by kind",
		},
		[]string{"kind"},
	)

	truncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "infer",
			Name:      "inputs_truncated_total",
			Help:      "Inputs shortened to max_input_length",
		},
	)

	tokenizeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "infer",
			Name:      "tokenize_seconds",
			Help:      "Tokenization time per request",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, inputsTotal, truncatedTotal, tokenizeSeconds)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "invalid"
	default:
		if _, ok := queue.CancelReasonOf(err); ok {
			return "cancelled"
		}
		if Retryable(err) {
			return "rejected"
		}
		return "error"
	}
}
