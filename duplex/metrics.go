package duplex

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "duplex"
)

var (
	connectionsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Duplex connection attempts by result (accepted, rejected, upgrade_failed)",
		},
		[]string{"result"},
	)

	connectionsActive = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Open duplex connections, superseded ones included until they close",
		},
	)

	framesReceived = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_received_total",
			Help:      "Inbound frames by event kind",
		},
		[]string{"kind"},
	)

	framesInvalid = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_invalid_total",
			Help:      "Inbound frames that could not be decoded",
		},
	)

	framesSent = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_sent_total",
			Help:      "Outbound frames by event name",
		},
		[]string{"event"},
	)
)
