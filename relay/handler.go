package relay

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
)

// Rejection bodies. The two 401s differ on purpose: one is a malformed
// header, the other a key nobody is serving.
const (
	msgInvalidAuthorization = "invalid authorization header"
	msgInvalidMessages      = "invalid messages format"
	msgNoConnectedFrontend  = "no connected frontend for this user. are you using the right key?"
)

// defaultMaxBodyBytes bounds request bodies; chat histories can be long.
const defaultMaxBodyBytes = 32 << 20

// PeerLookup finds the browser serving a key.
type PeerLookup interface {
	Lookup(key string) (duplex.Transport, error)
	Size() int
	ObfuscatedKeys() []string
}

// HandlerConfig configures the completion handler.
type HandlerConfig struct {
	Machine      MachineConfig
	Model        string
	MaxBodyBytes int64
}

// CompletionHandler serves POST /v1/chat/completions.
type CompletionHandler struct {
	logger   logging.Logger
	peers    PeerLookup
	stats    *Stats
	clock    clockwork.Clock
	recorder *MetricRecorder
	config   HandlerConfig
}

// NewCompletionHandler creates the handler.
func NewCompletionHandler(
	logger logging.Logger,
	peers PeerLookup,
	stats *Stats,
	clock clockwork.Clock,
	recorder *MetricRecorder,
	config HandlerConfig,
) *CompletionHandler {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &CompletionHandler{
		logger:   logging.ForComponent(logger, logging.ComponentCompletion),
		peers:    peers,
		stats:    stats,
		clock:    clock,
		recorder: recorder,
		config:   config,
	}
}

// NewRequestID returns a short random request identifier.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ServeHTTP validates the request, pairs it with the browser registered
// under the caller's key and relays the generation.
func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := NewRequestID()
	logger := logging.WithRequest(h.logger, requestID)

	key, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		logger.Warn().
			Bool("header_present", r.Header.Get("Authorization") != "").
			Msg("missing or invalid authorization header")
		h.reject(w, http.StatusUnauthorized, "invalid_authorization", msgInvalidAuthorization)
		return
	}
	logger = logger.With().Str(logging.FieldKey, logging.ObfuscateKey(key)).Logger()

	req, err := DecodeCompletionRequest(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("invalid messages format")
		h.reject(w, http.StatusBadRequest, "invalid_messages", msgInvalidMessages)
		return
	}

	transport, err := h.peers.Lookup(key)
	if err != nil {
		event := logger.Warn().Err(err).Int("connected_users", h.peers.Size())
		if h.peers.Size() > 0 {
			event = event.Strs("registered_keys", h.peers.ObfuscatedKeys())
		}
		event.Msg("no connected frontend for key")
		h.reject(w, http.StatusUnauthorized, "no_frontend", msgNoConnectedFrontend)
		return
	}

	mode := req.Mode()
	logger = logger.With().
		Str(logging.FieldMode, mode.String()).
		Str(logging.FieldConnID, transport.ID()).
		Logger()
	logger.Info().Msg("request accepted")

	h.stats.RecordRequest()

	sink := NewHTTPSink(w, mode)
	if err := sink.Begin(); err != nil {
		logger.Debug().Err(err).Msg("failed to commit stream headers")
	}

	session := NewSession(SessionParams{
		RequestID: "chatcmpl-" + requestID,
		Model:     h.config.Model,
		Mode:      mode,
		Config:    h.config.Machine,
		Start: duplex.StartGenerate{
			Messages: string(req.Messages),
			Settings: req.Settings(),
		},
		Transport: transport,
		Sink:      sink,
		Clock:     h.clock,
		Stats:     h.stats,
		Recorder:  h.recorder,
		Logger:    logger,
	})
	session.Run(r.Context())
}

func (h *CompletionHandler) reject(w http.ResponseWriter, status int, reason, body string) {
	requestsRejected.WithLabelValues(reason).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
