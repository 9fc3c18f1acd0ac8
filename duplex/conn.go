package duplex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seabase/kiwi-relay/logging"
)

// RFC 6455 close codes used by the endpoint.
const (
	CloseNormalClosure    = websocket.CloseNormalClosure
	CloseGoingAway        = websocket.CloseGoingAway
	ClosePolicyViolation  = websocket.ClosePolicyViolation
	CloseMessageTooBig    = websocket.CloseMessageTooBig
	CloseAbnormalClosure  = websocket.CloseAbnormalClosure
	CloseNoStatusReceived = websocket.CloseNoStatusReceived
)

func closeCodeName(code int) string {
	switch code {
	case CloseNormalClosure:
		return "NormalClosure"
	case CloseGoingAway:
		return "GoingAway"
	case ClosePolicyViolation:
		return "PolicyViolation"
	case CloseMessageTooBig:
		return "MessageTooBig"
	case CloseAbnormalClosure:
		return "AbnormalClosure"
	case CloseNoStatusReceived:
		return "NoStatusReceived"
	default:
		return "Unknown"
	}
}

// ConnConfig holds the keepalive settings of one connection.
type ConnConfig struct {
	// PongWait is how long the connection may stay silent, pongs included.
	PongWait time.Duration

	// WriteWait bounds every frame write.
	WriteWait time.Duration

	// MaxMessageBytes caps inbound frames.
	MaxMessageBytes int64
}

// DefaultConnConfig returns the keepalive defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 4 << 20,
	}
}

func (c ConnConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Conn is a Transport over a gorilla WebSocket. The same type serves the
// server side of /socket and the client side of the peer command.
type Conn struct {
	id     string
	ws     *websocket.Conn
	config ConnConfig
	logger logging.Logger

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	subsMu   sync.Mutex
	subs     []subscriber
	nextSub  uint64
	finished bool

	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
}

var _ Transport = (*Conn)(nil)

// NewConn wraps ws. Nothing is read until Run is called.
func NewConn(logger logging.Logger, ws *websocket.Conn, config ConnConfig) *Conn {
	if config.PongWait <= 0 || config.WriteWait <= 0 {
		defaults := DefaultConnConfig()
		config.PongWait, config.WriteWait = defaults.PongWait, defaults.WriteWait
	}

	id := uuid.NewString()
	return &Conn{
		id:     id,
		ws:     ws,
		config: config,
		logger: logger.With().Str(logging.FieldConnID, id).Logger(),
		done:   make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Done is closed after the disconnect event has been delivered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Emit writes one event frame.
func (c *Conn) Emit(event string, data any) error {
	if c.closing.Load() {
		return ErrClosed
	}

	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}

	framesSent.WithLabelValues(event).Inc()
	return nil
}

// Subscribe registers fn for inbound events.
func (c *Conn) Subscribe(fn func(Event)) func() {
	c.subsMu.Lock()
	if c.finished {
		c.subsMu.Unlock()
		fn(Event{Kind: KindDisconnect, Err: ErrClosed})
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Close sends a normal close frame and tears the socket down.
func (c *Conn) Close() error {
	c.CloseWithReason(CloseNormalClosure, "closing")
	return nil
}

// CloseWithReason sends a close frame with code and reason, then closes
// the socket. Only the first call has any effect.
func (c *Conn) CloseWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.logger.Debug().
			Int(logging.FieldCloseCode, code).
			Str("close_code_name", closeCodeName(code)).
			Str(logging.FieldReason, reason).
			Msg("closing duplex connection")

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteWait))
		_ = c.ws.Close()
	})
}

// Run reads frames until the connection ends, dispatching them to
// subscribers, and returns the read error that ended it. Cancelling ctx
// closes the connection with GoingAway.
func (c *Conn) Run(ctx context.Context) error {
	if c.config.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.config.MaxMessageBytes)
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to set initial read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go logging.RecoverGoRoutine(c.logger, logging.ComponentDuplexEndpoint, c.pingLoop)(pingCtx)

	err := c.readLoop()
	c.finish(err)
	return err
}

func (c *Conn) readLoop() error {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		// Any frame proves liveness, not only pongs.
		if err := c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
			c.logger.Debug().Err(err).Msg("failed to reset read deadline")
		}

		ev := DecodeEvent(frame)
		if ev.Kind == KindError {
			framesInvalid.Inc()
			c.logger.Debug().Err(ev.Err).Int(logging.FieldSize, len(frame)).Msg("undecodable frame")
		}
		framesReceived.WithLabelValues(ev.Kind.String()).Inc()
		c.dispatch(ev)
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Run returned or the server is shutting down. Either way the
			// socket must go; CloseWithReason is a no-op after the first call.
			c.CloseWithReason(CloseGoingAway, "server going away")
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed - connection may be dead")
				c.CloseWithReason(CloseGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (c *Conn) dispatch(ev Event) {
	c.subsMu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

func (c *Conn) finish(err error) {
	c.CloseWithReason(CloseNormalClosure, "")

	c.subsMu.Lock()
	c.finished = true
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()

	ev := Event{Kind: KindDisconnect, Err: err}
	for _, s := range subs {
		s.fn(ev)
	}
	close(c.done)
}

// DisconnectReason renders the error that ended a connection for logs.
func DisconnectReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("%s (%d) %s", closeCodeName(closeErr.Code), closeErr.Code, closeErr.Text)
	}
	if err == nil {
		return "closed"
	}
	return err.Error()
}
