package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	queueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Entries waiting to be batched",
		},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "batch_size",
			Help:      "Entries per executed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	batchPaddedTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "batch_padded_tokens",
			Help:      "Padded token count (max length x size) per executed batch",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 12),
		},
	)

	paddingWaste = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "padding_tokens_total",
			Help:      "Padding tokens sent to the backend",
		},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "batch_duration_seconds",
			Help:      "Backend call duration per batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	batchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "batch_errors_total",
			Help:      "Failed batches by backend error kind",
		},
		[]string{"kind"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Entries refused admission or scheduling",
		},
		[]string{"reason"},
	)

	oversizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "oversized_total",
			Help:      "Single entries scheduled above max_batch_tokens",
		},
	)

	cancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "cancelled_total",
			Help:      "Pending entries withdrawn before scheduling",
		},
		[]string{"reason"},
	)

	entryWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "entry_wait_seconds",
			Help:      "Time an entry spent pending, by kind and outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)

	entryComputeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "embedd",
			Subsystem: "queue",
			Name:      "entry_compute_seconds",
			Help:      "Backend time of the batch that ran an entry, by kind and outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(queueSize, batchSize, batchPaddedTokens, paddingWaste,
		batchDuration, batchErrors, rejectedTotal, oversizedTotal, cancelledTotal,
		entryWaitSeconds, entryComputeSeconds)
}
