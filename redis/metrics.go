package redis

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seabase/kiwi-relay/observability"
)

const (
	metricsNamespace = "relay"
	metricsSubsystem = "redis"
)

var (
	redisUp = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "up",
			Help:      "1 if the last PING succeeded, 0 otherwise",
		},
	)

	redisUsedMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "used_memory_bytes",
			Help:      "Current Redis memory usage in bytes (from INFO MEMORY used_memory)",
		},
	)

	redisMaxMemoryBytes = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "max_memory_bytes",
			Help:      "Configured Redis maxmemory in bytes (0 means no limit)",
		},
	)

	redisMemoryUsageRatio = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "memory_usage_ratio",
			Help:      "Ratio of used_memory to maxmemory (-1 if maxmemory is not set)",
		},
	)
)
