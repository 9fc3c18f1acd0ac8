// Package peer is a development stand-in for the browser tab: it keeps a
// socket open under a key and answers every start_generate by echoing the
// last user message back in chunks.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
	"github.com/seabase/kiwi-relay/relay"
)

const fallbackReply = "Hello from the kiwi-relay development peer."

// Config configures a peer.
type Config struct {
	// ServerURL is the relay base URL, http(s):// or ws(s)://.
	ServerURL string
	Key       string

	HeartbeatInterval time.Duration
	ChunkChars        int
	ChunkDelay        time.Duration

	Conn duplex.ConnConfig
}

// DefaultConfig returns the peer defaults.
func DefaultConfig() Config {
	return Config{
		ServerURL:         "http://localhost:8080",
		HeartbeatInterval: 30 * time.Second,
		ChunkChars:        8,
		ChunkDelay:        50 * time.Millisecond,
		Conn:              duplex.DefaultConnConfig(),
	}
}

// Peer is one simulated browser.
type Peer struct {
	logger    logging.Logger
	config    Config
	clock     clockwork.Clock
	socketURL string
	dialer    *websocket.Dialer

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates config and builds a peer.
func New(logger logging.Logger, config Config, clock clockwork.Clock) (*Peer, error) {
	if config.Key == "" {
		return nil, errors.New("peer key is required")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.ChunkChars <= 0 {
		config.ChunkChars = DefaultConfig().ChunkChars
	}

	socketURL, err := SocketURL(config.ServerURL, config.Key)
	if err != nil {
		return nil, err
	}

	return &Peer{
		logger:    logging.ForPeer(logger, logging.ComponentPeer, config.Key),
		config:    config,
		clock:     clock,
		socketURL: socketURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// SocketURL derives the /socket URL for key from a relay base URL.
func SocketURL(serverURL, key string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server URL has no host")
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	u.RawQuery = url.Values{"key": {key}}.Encode()
	return u.String(), nil
}

// Run keeps the peer connected until ctx is done.
func (p *Peer) Run(ctx context.Context) {
	var conn *duplex.Conn

	loop := NewReconnectionLoop(p.logger, p.clock,
		func(ctx context.Context) error {
			c, err := p.dial(ctx)
			conn = c
			return err
		},
		func(ctx context.Context) error {
			return p.serve(ctx, conn)
		},
	)
	loop.Run(ctx)
}

func (p *Peer) dial(ctx context.Context) (*duplex.Conn, error) {
	ws, resp, err := p.dialer.DialContext(ctx, p.socketURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.socketURL, err)
	}
	return duplex.NewConn(p.logger, ws, p.config.Conn), nil
}

// serve answers generation requests on conn until it ends.
func (p *Peer) serve(ctx context.Context, conn *duplex.Conn) error {
	unsubscribe := conn.Subscribe(func(ev duplex.Event) {
		switch ev.Name {
		case duplex.EventStartGenerate:
			var start duplex.StartGenerate
			if err := json.Unmarshal(ev.Data, &start); err != nil {
				p.logger.Warn().Err(err).Msg("undecodable start_generate")
				return
			}
			p.startGeneration(ctx, conn, start)
		case duplex.EventStopGeneration:
			p.logger.Info().Msg("generation stopped by server")
			p.stopGeneration()
		}
	})
	defer unsubscribe()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go logging.RecoverGoRoutine(p.logger, logging.ComponentPeer, func(ctx context.Context) {
		p.heartbeatLoop(ctx, conn)
	})(heartbeatCtx)

	err := conn.Run(ctx)

	p.stopGeneration()
	p.wg.Wait()
	return err
}

func (p *Peer) heartbeatLoop(ctx context.Context, conn duplex.Transport) {
	ticker := p.clock.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.Chan():
			if err := conn.Emit(duplex.EventHeartbeat, nil); err != nil {
				p.logger.Debug().Err(err).Msg("failed to send heartbeat")
			}
		}
	}
}

// startGeneration replaces any running generation, the way a tab only
// answers its latest request.
func (p *Peer) startGeneration(ctx context.Context, conn duplex.Transport, start duplex.StartGenerate) {
	p.stopGeneration()

	genCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		result := "completed"
		if err := p.generate(genCtx, conn, start); err != nil {
			result = "failed"
			if errors.Is(err, context.Canceled) {
				result = "stopped"
			}
			p.logger.Debug().Err(err).Msg("generation ended early")
		}
		generationsTotal.WithLabelValues(result).Inc()
	}()
}

func (p *Peer) stopGeneration() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *Peer) generate(ctx context.Context, conn duplex.Transport, start duplex.StartGenerate) error {
	reply := EchoReply(start.Messages)
	chunks := relay.SplitFrames(reply, p.config.ChunkChars)

	p.logger.Info().
		Int(logging.FieldChars, len([]rune(reply))).
		Int(logging.FieldCount, len(chunks)).
		Msg("generating reply")

	for i, chunk := range chunks {
		if i > 0 && p.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(p.config.ChunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.Emit(duplex.EventMessage, chunk); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return conn.Emit(duplex.EventDone, nil)
}

// EchoReply builds the reply to a JSON-encoded conversation: the last user
// message with string content, echoed back.
func EchoReply(messagesJSON string) string {
	var messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return fallbackReply
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if text, ok := messages[i].Content.(string); ok && text != "" {
			return "You said: " + text
		}
	}
	return fallbackReply
}
