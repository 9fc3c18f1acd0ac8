package duplex

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/seabase/kiwi-relay/logging"
)

// Registrar is the part of the connection registry the endpoint drives.
type Registrar interface {
	Register(key string, conn Transport)
	Remove(key, connID string) bool
	TouchHeartbeat(key string)
}

// EndpointConfig configures the /socket endpoint.
type EndpointConfig struct {
	MinKeyLength int
	Conn         ConnConfig
}

// Endpoint upgrades /socket?key=... requests and keeps every accepted
// connection registered under its key until it ends.
type Endpoint struct {
	logger   logging.Logger
	registry Registrar
	config   EndpointConfig
	upgrader websocket.Upgrader

	// open tracks live connections so Shutdown can close hijacked sockets,
	// which http.Server.Shutdown does not touch.
	open *xsync.Map[string, *Conn]
}

// NewEndpoint creates the /socket handler.
func NewEndpoint(logger logging.Logger, registry Registrar, config EndpointConfig) *Endpoint {
	defaults := DefaultConnConfig()
	if config.Conn.PongWait <= 0 {
		config.Conn.PongWait = defaults.PongWait
	}
	if config.Conn.WriteWait <= 0 {
		config.Conn.WriteWait = defaults.WriteWait
	}

	return &Endpoint{
		logger:   logging.ForComponent(logger, logging.ComponentDuplexEndpoint),
		registry: registry,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser tabs connect from whatever origin serves the page.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		open: xsync.NewMap[string, *Conn](),
	}
}

// ServeHTTP handles one connection for its whole lifetime.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		connectionsTotal.WithLabelValues("upgrade_failed").Inc()
		e.logger.Debug().Err(err).Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("failed to upgrade to websocket")
		return
	}

	if utf8.RuneCountInString(key) < e.config.MinKeyLength {
		connectionsTotal.WithLabelValues("rejected").Inc()
		e.logger.Info().
			Str(logging.FieldRemoteAddr, r.RemoteAddr).
			Int(logging.FieldSize, utf8.RuneCountInString(key)).
			Msg("invalid key provided in connection attempt")
		msg := websocket.FormatCloseMessage(ClosePolicyViolation, "invalid key")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(e.config.Conn.WriteWait))
		_ = ws.Close()
		return
	}

	conn := NewConn(logging.ForPeer(e.logger, logging.ComponentDuplexEndpoint, key), ws, e.config.Conn)
	logger := conn.logger

	connectionsTotal.WithLabelValues("accepted").Inc()
	connectionsActive.Inc()
	defer connectionsActive.Dec()

	e.open.Store(conn.ID(), conn)
	defer e.open.Delete(conn.ID())

	e.registry.Register(key, conn)
	unsubscribe := conn.Subscribe(func(ev Event) {
		if ev.Kind == KindHeartbeat {
			e.registry.TouchHeartbeat(key)
		}
	})
	defer unsubscribe()

	logger.Info().Str(logging.FieldRemoteAddr, r.RemoteAddr).Msg("peer connected")

	err = conn.Run(r.Context())
	removed := e.registry.Remove(key, conn.ID())

	logger.Info().
		Str(logging.FieldReason, DisconnectReason(err)).
		Bool("registry_entry_removed", removed).
		Msg("peer disconnected")
}

// Shutdown closes every open connection with GoingAway.
func (e *Endpoint) Shutdown() {
	e.open.Range(func(_ string, conn *Conn) bool {
		conn.CloseWithReason(CloseGoingAway, "server shutting down")
		return true
	})
}

// OpenConnections returns the number of live sockets, superseded ones
// included.
func (e *Endpoint) OpenConnections() int {
	return e.open.Size()
}
