//go:build test

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/logging"
)

func TestRuntimeMetricsCollector_CollectNow(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewRuntimeMetricsCollector(
		logging.NewLoggerFromConfig(logging.DefaultConfig()),
		RuntimeMetricsCollectorConfig{},
		promauto.With(registry),
	)
	require.Equal(t, 10*time.Second, collector.config.CollectionInterval)

	collector.CollectNow()
	require.Greater(t, testutil.ToFloat64(collector.metrics.goroutines), 0.0)
	require.Greater(t, testutil.ToFloat64(collector.metrics.heapSys), 0.0)
}

func TestRuntimeMetricsCollector_StartStop(t *testing.T) {
	collector := NewRuntimeMetricsCollector(
		logging.NewLoggerFromConfig(logging.DefaultConfig()),
		RuntimeMetricsCollectorConfig{CollectionInterval: 10 * time.Millisecond},
		promauto.With(prometheus.NewRegistry()),
	)

	require.NoError(t, collector.Start(context.Background()))
	require.NoError(t, collector.Start(context.Background()))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(collector.metrics.gomaxprocs) > 0
	}, time.Second, 10*time.Millisecond)

	collector.Stop()
	collector.Stop()
}

func TestTimer_Duration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	require.GreaterOrEqual(t, timer.Duration(), 5*time.Millisecond)
}
