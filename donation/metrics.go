package donation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "donations"
)

var (
	donationsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "received_total",
			Help:      "Donated conversations by result (stored, duplicate, error)",
		},
		[]string{"result"},
	)

	storeOperationDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of donation store operations",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"backend", "operation"},
	)

	similarityChecks = observability.RelayFactory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "similarity_comparisons",
			Help:      "Stored records compared per donation",
			Buckets:   []float64{0, 1, 10, 25, 50, 100, 250},
		},
	)
)
