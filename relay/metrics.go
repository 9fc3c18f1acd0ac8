package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "completions"
)

var (
	requestsRejected = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_rejected_total",
			Help:      "Completion requests rejected before a session started, by reason",
		},
		[]string{"reason"},
	)

	sessionsActive = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sessions_active",
			Help:      "Relay sessions in progress",
		},
		[]string{"mode"},
	)

	sessionsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sessions_total",
			Help:      "Finished relay sessions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	sessionDuration = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "session_duration_seconds",
			Help:      "Time from start_generate to session close",
			Buckets:   observability.GenerationDurationBuckets,
		},
		[]string{"mode", "outcome"},
	)

	chunksTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "chunks_total",
			Help:      "Chunks received from browsers, by mode",
		},
		[]string{"mode"},
	)

	generatedChars = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "generated_chars_total",
			Help:      "Characters received from browsers",
		},
	)

	sessionErrors = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Recoverable session errors by source (transport, write)",
		},
		[]string{"source"},
	)
)
