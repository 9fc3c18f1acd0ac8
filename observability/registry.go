package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRegistry holds every metric owned by the relay process. Keeping it
	// apart from the default registry lets tests build isolated registries
	// without duplicate registration panics.
	RelayRegistry = prometheus.NewRegistry()

	// RelayFactory registers metrics into RelayRegistry.
	RelayFactory = promauto.With(RelayRegistry)
)

func init() {
	RelayRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Gatherer merges RelayRegistry with the default registry, which carries the
// promauto metrics of packages that have no factory (panic recoveries).
func Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{RelayRegistry, prometheus.DefaultGatherer}
}
