package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/seabase/kiwi-relay/logging"
)

// HealthConfig configures a HealthMonitor.
type HealthConfig struct {
	// Interval between checks. Default: 30s
	Interval time.Duration

	// MemoryWarningPercent logs a warning when used_memory exceeds this
	// share of maxmemory. Default: 90
	MemoryWarningPercent float64
}

// Commander is the subset of the Redis API the monitor needs.
type Commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
}

// HealthMonitor pings Redis and samples INFO MEMORY at a fixed interval.
// Its result feeds the readiness probe and the redis_* gauges.
type HealthMonitor struct {
	logger logging.Logger
	client Commander
	clock  clockwork.Clock
	config HealthConfig

	healthy atomic.Bool

	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor. Nothing runs until Start.
func NewHealthMonitor(logger logging.Logger, client Commander, clock clockwork.Clock, config HealthConfig) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.MemoryWarningPercent <= 0 {
		config.MemoryWarningPercent = 90
	}
	return &HealthMonitor{
		logger: logging.ForComponent(logger, logging.ComponentRedisHealth),
		client: client,
		clock:  clock,
		config: config,
	}
}

// Start checks once and then keeps checking until ctx ends or Close.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.cancelFn != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancelFn = context.WithCancel(ctx)
	m.mu.Unlock()

	m.Check(ctx)

	m.wg.Add(1)
	go logging.RecoverGoRoutine(m.logger, logging.ComponentRedisHealth, m.monitorLoop)(ctx)

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Float64("warning_percent", m.config.MemoryWarningPercent).
		Msg("redis health monitor started")
}

// Healthy reports whether the last PING succeeded.
func (m *HealthMonitor) Healthy() bool {
	return m.healthy.Load()
}

func (m *HealthMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}

// Check runs one PING and INFO MEMORY round.
func (m *HealthMonitor) Check(ctx context.Context) {
	if err := m.client.Ping(ctx).Err(); err != nil {
		if m.healthy.Swap(false) {
			m.logger.Error().Err(err).Msg("redis is unreachable")
		}
		redisUp.Set(0)
		return
	}
	if !m.healthy.Swap(true) {
		m.logger.Info().Msg("redis is reachable")
	}
	redisUp.Set(1)

	info, err := m.client.Info(ctx, "memory").Result()
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to query redis INFO MEMORY")
		return
	}

	usedMemory, maxMemory, err := parseMemoryInfo(info)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to parse redis INFO MEMORY")
		return
	}

	redisUsedMemoryBytes.Set(float64(usedMemory))
	redisMaxMemoryBytes.Set(float64(maxMemory))

	if maxMemory <= 0 {
		redisMemoryUsageRatio.Set(-1)
		return
	}

	ratio := float64(usedMemory) / float64(maxMemory)
	redisMemoryUsageRatio.Set(ratio)
	if ratio*100 > m.config.MemoryWarningPercent {
		m.logger.Warn().
			Int64("used_memory_bytes", usedMemory).
			Int64("max_memory_bytes", maxMemory).
			Float64("usage_ratio", ratio).
			Msg("redis memory high, writes may start failing with OOM")
	}
}

// parseMemoryInfo extracts used_memory and maxmemory from INFO MEMORY.
func parseMemoryInfo(info string) (usedMemory, maxMemory int64, err error) {
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "used_memory":
			usedMemory, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, 0, err
			}
		case "maxmemory":
			maxMemory, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, 0, err
			}
		}
	}

	return usedMemory, maxMemory, nil
}

// Close stops the monitor. It is safe to call more than once.
func (m *HealthMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancelFn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.logger.Info().Msg("redis health monitor stopped")
	return nil
}
