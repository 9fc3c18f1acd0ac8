package peer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/logging"
)

const (
	reconnectBaseDelay     = 1 * time.Second
	reconnectMaxDelay      = 30 * time.Second
	reconnectBackoffFactor = 2
)

// ReconnectionLoop dials with exponential backoff and runs the connection
// until it drops, then dials again.
//
//	loop := NewReconnectionLoop(logger, clock,
//	    func(ctx context.Context) error { return dial(ctx) },
//	    func(ctx context.Context) error { return serve(ctx) },
//	)
//	loop.Run(ctx)
type ReconnectionLoop struct {
	logger    logging.Logger
	clock     clockwork.Clock
	connectFn func(context.Context) error
	runFn     func(context.Context) error
}

// NewReconnectionLoop creates a loop. connectFn establishes the
// connection; runFn serves it until it ends.
func NewReconnectionLoop(
	logger logging.Logger,
	clock clockwork.Clock,
	connectFn func(context.Context) error,
	runFn func(context.Context) error,
) *ReconnectionLoop {
	return &ReconnectionLoop{
		logger:    logger,
		clock:     clock,
		connectFn: connectFn,
		runFn:     runFn,
	}
}

// Run blocks until ctx is done. Failed dials back off 1s, 2s, 4s up to
// 30s; a connection that was established and then dropped is redialed
// immediately.
func (r *ReconnectionLoop) Run(ctx context.Context) {
	reconnectDelay := reconnectBaseDelay

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("reconnection loop shutting down")
			return
		default:
		}

		reconnectionAttempts.Inc()

		if err := r.connectFn(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Dur("retry_in", reconnectDelay).
				Msg("connection failed, will retry")

			select {
			case <-ctx.Done():
				return
			case <-r.clock.After(reconnectDelay):
				reconnectDelay = increaseBackoff(reconnectDelay)
				continue
			}
		}

		reconnectDelay = reconnectBaseDelay
		reconnectionSuccess.Inc()
		r.logger.Info().Msg("connection established")

		err := r.runFn(ctx)

		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("shutting down gracefully")
			return
		default:
			if err != nil {
				r.logger.Warn().Err(err).Msg("disconnected, reconnecting")
			} else {
				r.logger.Warn().Msg("connection closed, reconnecting")
			}
		}
	}
}

func increaseBackoff(current time.Duration) time.Duration {
	next := current * reconnectBackoffFactor
	if next > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return next
}
