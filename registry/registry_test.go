//go:build test

package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
)

type fakeTransport struct {
	id     string
	closed atomic.Int32
	done   chan struct{}
	once   sync.Once
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, done: make(chan struct{})}
}

func (f *fakeTransport) ID() string                          { return f.id }
func (f *fakeTransport) Emit(string, any) error              { return nil }
func (f *fakeTransport) Subscribe(func(duplex.Event)) func() { return func() {} }
func (f *fakeTransport) Done() <-chan struct{}               { return f.done }

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	f.once.Do(func() { close(f.done) })
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	reg := New(
		logging.NewLoggerFromConfig(logging.DefaultConfig()),
		Config{SupersedeGrace: 100 * time.Millisecond},
		clock,
		pool,
	)
	return reg, clock
}

func TestRegistry_GetAfterRegister(t *testing.T) {
	reg, clock := newTestRegistry(t)
	conn := newFakeTransport("c1")

	reg.Register("user-key-0001", conn)

	entry, ok := reg.Get("user-key-0001")
	require.True(t, ok)
	require.Equal(t, conn, entry.Conn)
	require.Equal(t, clock.Now(), entry.ConnectedAt)
	require.Equal(t, 1, reg.Size())

	transport, err := reg.Lookup("user-key-0001")
	require.NoError(t, err)
	require.Equal(t, "c1", transport.ID())

	_, err = reg.Lookup("someone-else")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_LookupSkipsEndedConnection(t *testing.T) {
	reg, _ := newTestRegistry(t)
	conn := newFakeTransport("c1")
	reg.Register("user-key-0001", conn)

	require.NoError(t, conn.Close())

	_, err := reg.Lookup("user-key-0001")
	require.ErrorIs(t, err, ErrNotFound)

	// The entry stays until the endpoint's disconnect removes it.
	_, ok := reg.Get("user-key-0001")
	require.True(t, ok)
}

func TestRegistry_SupersessionClosesOldAfterGrace(t *testing.T) {
	reg, clock := newTestRegistry(t)
	c1 := newFakeTransport("c1")
	c2 := newFakeTransport("c2")

	reg.Register("user-key-0001", c1)
	reg.Register("user-key-0001", c2)

	entry, ok := reg.Get("user-key-0001")
	require.True(t, ok)
	require.Equal(t, "c2", entry.Conn.ID())
	require.Equal(t, 1, reg.Size())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.Zero(t, c1.closed.Load(), "old connection closed before the grace period")

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return c1.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, c2.closed.Load())

	// The old connection's disconnect must not delete the new entry.
	require.False(t, reg.Remove("user-key-0001", "c1"))
	entry, ok = reg.Get("user-key-0001")
	require.True(t, ok)
	require.Equal(t, "c2", entry.Conn.ID())
}

func TestRegistry_ReRegisterSameConnDoesNotClose(t *testing.T) {
	reg, _ := newTestRegistry(t)
	c1 := newFakeTransport("c1")

	reg.Register("user-key-0001", c1)
	reg.Register("user-key-0001", c1)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, c1.closed.Load())
}

func TestRegistry_Remove(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register("user-key-0001", newFakeTransport("c1"))

	require.False(t, reg.Remove("missing-key-01", "c1"))
	require.True(t, reg.Remove("user-key-0001", "c1"))
	require.Zero(t, reg.Size())
	require.False(t, reg.Remove("user-key-0001", "c1"))
}

func TestRegistry_TouchHeartbeat(t *testing.T) {
	reg, clock := newTestRegistry(t)
	reg.Register("user-key-0001", newFakeTransport("c1"))

	clock.Advance(30 * time.Second)
	reg.TouchHeartbeat("user-key-0001")
	reg.TouchHeartbeat("unknown-key-01")

	entry, _ := reg.Get("user-key-0001")
	require.Equal(t, clock.Now(), entry.LastHeartbeat())
	require.Equal(t, 1, reg.Size())
}

func TestRegistry_ObfuscatedKeys(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register("bbbbbbbbbbbbbbbbbbbb", newFakeTransport("c1"))
	reg.Register("aaaaaaaaaaaaaaaaaaaa", newFakeTransport("c2"))

	require.Equal(t, []string{"aaaaaaaaaa**********", "bbbbbbbbbb**********"}, reg.ObfuscatedKeys())
}

func TestHeartbeatMonitor_Sweep(t *testing.T) {
	reg, clock := newTestRegistry(t)
	monitor := NewHeartbeatMonitor(
		logging.NewLoggerFromConfig(logging.DefaultConfig()),
		reg,
		HeartbeatMonitorConfig{Interval: 30 * time.Second, StaleAfter: 90 * time.Second},
		clock,
	)

	reg.Register("quiet-key-0001", newFakeTransport("c1"))
	clock.Advance(60 * time.Second)
	reg.Register("chatty-key-001", newFakeTransport("c2"))
	clock.Advance(60 * time.Second)
	reg.TouchHeartbeat("chatty-key-001")

	result := monitor.Sweep()
	require.Equal(t, SweepResult{Connected: 2, Stale: 1}, result)

	// Stale peers are reported, never evicted.
	require.Equal(t, 2, reg.Size())
}

func TestHeartbeatMonitor_StartStop(t *testing.T) {
	reg, clock := newTestRegistry(t)
	monitor := NewHeartbeatMonitor(
		logging.NewLoggerFromConfig(logging.DefaultConfig()),
		reg,
		HeartbeatMonitorConfig{Interval: time.Second},
		clock,
	)
	require.Equal(t, 3*time.Second, monitor.config.StaleAfter)

	require.NoError(t, monitor.Start(context.Background()))
	require.NoError(t, monitor.Start(context.Background()))
	monitor.Stop()
	monitor.Stop()
}
