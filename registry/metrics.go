package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "registry"
)

var (
	connectedPeers = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected_peers",
			Help:      "Keys with a registered browser connection",
		},
	)

	stalePeers = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stale_peers",
			Help:      "Registered peers whose last heartbeat is older than the stale threshold",
		},
	)

	operationsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Registry mutations by operation (register, supersede, remove, remove_stale)",
		},
		[]string{"operation"},
	)
)
