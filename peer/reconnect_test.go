//go:build test

package peer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestIncreaseBackoff(t *testing.T) {
	delay := reconnectBaseDelay
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		seen = append(seen, delay)
		delay = increaseBackoff(delay)
	}
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}

func TestReconnectionLoop_BacksOffThenRuns(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int32
	running := make(chan struct{})

	loop := NewReconnectionLoop(zerolog.Nop(), clock,
		func(context.Context) error {
			if dials.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		func(ctx context.Context) error {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		},
	)

	finished := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(finished)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	require.Equal(t, int32(1), dials.Load())
	clock.Advance(time.Second)

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	require.Equal(t, int32(2), dials.Load())
	// The second wait is two seconds; one is not enough.
	clock.Advance(time.Second)
	require.Equal(t, int32(2), dials.Load())
	clock.Advance(time.Second)

	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("run function never started")
	}
	require.Equal(t, int32(3), dials.Load())

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestReconnectionLoop_RedialsAfterDrop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	loop := NewReconnectionLoop(zerolog.Nop(), clockwork.NewRealClock(),
		func(context.Context) error { return nil },
		func(context.Context) error {
			if runs.Add(1) == 3 {
				cancel()
			}
			return errors.New("connection reset")
		},
	)

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	require.Equal(t, int32(3), runs.Load())
}
