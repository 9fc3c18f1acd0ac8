package peer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "peer"
)

var (
	reconnectionAttempts = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnection_attempts_total",
			Help:      "Dial attempts made by the development peer",
		},
	)

	reconnectionSuccess = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reconnection_success_total",
			Help:      "Successful dials made by the development peer",
		},
	)

	generationsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "generations_total",
			Help:      "Generations answered by the development peer by result (completed, stopped, failed)",
		},
		[]string{"result"},
	)
)
