package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "relay"

var (
	// FineGrainedLatencyBuckets covers 1ms to 30s.
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// GenerationDurationBuckets covers browser-side generations, which run
	// from a few seconds to several minutes.
	GenerationDurationBuckets = []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600}
)

var (
	// StartupDurationSeconds records how long each component took to start.
	StartupDurationSeconds = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "process",
			Name:      "startup_duration_seconds",
			Help:      "Time taken by a component to start",
		},
		[]string{"component"},
	)

	// BuildInfo is always 1 and carries version labels.
	BuildInfo = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "process",
			Name:      "build_info",
			Help:      "Build information of the running binary",
		},
		[]string{"version", "commit"},
	)

	// RedisOperationDurationSeconds tracks Redis round trips.
	RedisOperationDurationSeconds = RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation", "status"},
	)
)

// Timer measures the duration of one operation.
type Timer struct {
	startTime time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{startTime: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.startTime)
}

// ObserveRedisOperation records the elapsed time as a Redis operation.
func (t *Timer) ObserveRedisOperation(operation, status string) {
	RedisOperationDurationSeconds.WithLabelValues(operation, status).Observe(t.Duration().Seconds())
}

// RecordStartupDuration records how long a component took to start.
func RecordStartupDuration(component string, d time.Duration) {
	StartupDurationSeconds.WithLabelValues(component).Set(d.Seconds())
}

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit string) {
	BuildInfo.Reset()
	BuildInfo.WithLabelValues(version, commit).Set(1)
}
