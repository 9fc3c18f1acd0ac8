package observability

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seabase/kiwi-relay/logging"
)

type runtimeMetrics struct {
	goroutines   prometheus.Gauge
	gomaxprocs   prometheus.Gauge
	heapAlloc    prometheus.Gauge
	heapInuse    prometheus.Gauge
	heapSys      prometheus.Gauge
	stackInuse   prometheus.Gauge
	nextGC       prometheus.Gauge
	gcPauseTotal prometheus.Counter
	numGC        prometheus.Counter
}

func newRuntimeMetrics(factory promauto.Factory) *runtimeMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
		})
	}

	return &runtimeMetrics{
		goroutines:   gauge("goroutines", "Number of goroutines"),
		gomaxprocs:   gauge("gomaxprocs", "Value of GOMAXPROCS"),
		heapAlloc:    gauge("heap_alloc_bytes", "Bytes of allocated heap objects"),
		heapInuse:    gauge("heap_inuse_bytes", "Bytes in in-use spans"),
		heapSys:      gauge("heap_sys_bytes", "Bytes of heap memory obtained from the OS"),
		stackInuse:   gauge("stack_inuse_bytes", "Bytes in stack spans"),
		nextGC:       gauge("next_gc_heap_size_bytes", "Target heap size of the next GC cycle"),
		gcPauseTotal: counter("gc_pause_total_nanoseconds", "Cumulative nanoseconds in GC stop-the-world pauses"),
		numGC:        counter("gc_completed_total", "Number of completed GC cycles"),
	}
}

// RuntimeMetricsCollectorConfig configures the runtime metrics collector.
type RuntimeMetricsCollectorConfig struct {
	CollectionInterval time.Duration
}

// DefaultRuntimeMetricsCollectorConfig returns sensible defaults.
func DefaultRuntimeMetricsCollectorConfig() RuntimeMetricsCollectorConfig {
	return RuntimeMetricsCollectorConfig{
		CollectionInterval: 10 * time.Second,
	}
}

// RuntimeMetricsCollector periodically samples runtime.MemStats. Every open
// duplex connection costs two goroutines, so the goroutine gauge doubles as
// a rough peer count cross-check.
type RuntimeMetricsCollector struct {
	logger  logging.Logger
	config  RuntimeMetricsCollectorConfig
	metrics *runtimeMetrics
	samples []sample

	collectMu  sync.Mutex
	seenPause  uint64
	seenCycles uint32

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// sample copies one MemStats field into a gauge.
type sample struct {
	gauge prometheus.Gauge
	read  func(*runtime.MemStats) uint64
}

// NewRuntimeMetricsCollector creates a collector that registers its metrics
// through factory.
func NewRuntimeMetricsCollector(
	logger logging.Logger,
	config RuntimeMetricsCollectorConfig,
	factory promauto.Factory,
) *RuntimeMetricsCollector {
	if config.CollectionInterval <= 0 {
		config.CollectionInterval = DefaultRuntimeMetricsCollectorConfig().CollectionInterval
	}

	m := newRuntimeMetrics(factory)
	return &RuntimeMetricsCollector{
		logger:  logging.ForComponent(logger, logging.ComponentRuntimeMetrics),
		config:  config,
		metrics: m,
		samples: []sample{
			{m.heapAlloc, func(s *runtime.MemStats) uint64 { return s.HeapAlloc }},
			{m.heapInuse, func(s *runtime.MemStats) uint64 { return s.HeapInuse }},
			{m.heapSys, func(s *runtime.MemStats) uint64 { return s.HeapSys }},
			{m.stackInuse, func(s *runtime.MemStats) uint64 { return s.StackInuse }},
			{m.nextGC, func(s *runtime.MemStats) uint64 { return s.NextGC }},
		},
	}
}

// Start begins collecting runtime metrics. Calling it on a running
// collector is a no-op.
func (c *RuntimeMetricsCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return nil
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	c.collectMu.Lock()
	c.seenPause, c.seenCycles = ms.PauseTotalNs, ms.NumGC
	c.collectMu.Unlock()

	ctx, c.stop = context.WithCancel(ctx)
	done := make(chan struct{})
	c.done = done
	go logging.RecoverGoRoutine(c.logger, logging.ComponentRuntimeMetrics, func(ctx context.Context) {
		defer close(done)
		c.collectLoop(ctx)
	})(ctx)

	c.logger.Debug().
		Dur("collection_interval", c.config.CollectionInterval).
		Msg("runtime metrics collector started")
	return nil
}

// Stop stops collecting and waits for the loop to exit.
func (c *RuntimeMetricsCollector) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (c *RuntimeMetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.CollectionInterval)
	defer ticker.Stop()

	for {
		c.collect()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *RuntimeMetricsCollector) collect() {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	c.metrics.gomaxprocs.Set(float64(runtime.GOMAXPROCS(0)))
	for _, s := range c.samples {
		s.gauge.Set(float64(s.read(&ms)))
	}

	// MemStats totals are cumulative; counters only receive the growth.
	if ms.PauseTotalNs > c.seenPause {
		c.metrics.gcPauseTotal.Add(float64(ms.PauseTotalNs - c.seenPause))
		c.seenPause = ms.PauseTotalNs
	}
	if ms.NumGC > c.seenCycles {
		c.metrics.numGC.Add(float64(ms.NumGC - c.seenCycles))
		c.seenCycles = ms.NumGC
	}
}

// CollectNow triggers an immediate collection.
func (c *RuntimeMetricsCollector) CollectNow() {
	c.collect()
}
