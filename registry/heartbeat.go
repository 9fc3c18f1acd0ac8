package registry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/logging"
)

// HeartbeatMonitorConfig configures the heartbeat sweep.
type HeartbeatMonitorConfig struct {
	// Interval between sweeps. Browsers send a heartbeat about this often.
	Interval time.Duration

	// StaleAfter marks a peer stale when its last heartbeat is older.
	StaleAfter time.Duration
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Connected int
	Stale     int
}

// HeartbeatMonitor periodically reports how many registered peers have
// gone quiet. It never evicts: only a transport disconnect removes an
// entry.
type HeartbeatMonitor struct {
	logger   logging.Logger
	registry *Registry
	config   HeartbeatMonitorConfig
	clock    clockwork.Clock

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewHeartbeatMonitor creates a monitor over registry.
func NewHeartbeatMonitor(
	logger logging.Logger,
	registry *Registry,
	config HeartbeatMonitorConfig,
	clock clockwork.Clock,
) *HeartbeatMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 3 * config.Interval
	}

	return &HeartbeatMonitor{
		logger:   logging.ForComponent(logger, logging.ComponentHeartbeatMonitor),
		registry: registry,
		config:   config,
		clock:    clock,
	}
}

// Start begins the sweep loop.
func (m *HeartbeatMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	ctx, m.cancelFn = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go logging.RecoverGoRoutine(m.logger, logging.ComponentHeartbeatMonitor, m.sweepLoop)(ctx)

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Dur("stale_after", m.config.StaleAfter).
		Msg("heartbeat monitor started")

	return nil
}

func (m *HeartbeatMonitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep counts connected and stale peers and publishes the gauges.
func (m *HeartbeatMonitor) Sweep() SweepResult {
	now := m.clock.Now()
	var result SweepResult

	m.registry.Range(func(entry *Entry) bool {
		result.Connected++
		if silence := now.Sub(entry.LastHeartbeat()); silence > m.config.StaleAfter {
			result.Stale++
			m.logger.Debug().
				Str(logging.FieldKey, logging.ObfuscateKey(entry.Key)).
				Dur("silence", silence).
				Msg("peer heartbeat is stale")
		}
		return true
	})

	connectedPeers.Set(float64(result.Connected))
	stalePeers.Set(float64(result.Stale))
	return result
}

// Stop ends the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancelFn()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("heartbeat monitor stopped")
}
