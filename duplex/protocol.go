// Package duplex implements the persistent browser connection: a JSON
// event envelope carried over WebSocket text frames, an ordered subscriber
// fan-out for inbound events and the /socket upgrade endpoint.
package duplex

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in the envelope.
const (
	// Server to browser.
	EventStartGenerate  = "start_generate"
	EventStopGeneration = "stop_generation"

	// Browser to server.
	EventMessage   = "message"
	EventDone      = "done"
	EventHeartbeat = "heartbeat"
)

var (
	// ErrClosed is returned by Emit after the connection started closing.
	ErrClosed = errors.New("duplex connection closed")

	// ErrMalformedFrame marks inbound frames that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Envelope is the wire format of every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Kind classifies an inbound event.
type Kind int

const (
	KindMessage Kind = iota
	KindDone
	KindHeartbeat
	// KindError is a frame that arrived but could not be decoded.
	KindError
	// KindDisconnect is always the last event a subscriber sees.
	KindDisconnect
	// KindOther is any other named event; Data holds its raw payload.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return EventMessage
	case KindDone:
		return EventDone
	case KindHeartbeat:
		return EventHeartbeat
	case KindError:
		return "error"
	case KindDisconnect:
		return "disconnect"
	default:
		return "other"
	}
}

// Event is one inbound event delivered to subscribers.
type Event struct {
	Kind Kind
	Name string
	Text string
	Data json.RawMessage
	Err  error
}

// Transport is the server's view of one browser connection.
type Transport interface {
	// ID is unique per connection, not per key.
	ID() string

	// Emit sends one named event. It is safe for concurrent use.
	Emit(event string, data any) error

	// Subscribe registers fn for inbound events, delivered in receive order
	// on a single goroutine. If the connection is already gone fn receives
	// a KindDisconnect event before Subscribe returns.
	Subscribe(fn func(Event)) (unsubscribe func())

	// Close starts closing the connection. It is idempotent.
	Close() error

	// Done is closed once the connection is gone and the disconnect event
	// has been delivered.
	Done() <-chan struct{}
}

// StartGenerate is the payload of start_generate. Messages is the JSON
// encoding of the conversation, as a string.
type StartGenerate struct {
	Messages string `json:"messages"`
	Settings any    `json:"settings"`
}

// EncodeEnvelope builds the frame for event. A nil data omits the payload.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// DecodeEvent classifies one inbound frame.
func DecodeEvent(frame []byte) Event {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{Kind: KindError, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
	}
	if env.Event == "" {
		return Event{Kind: KindError, Err: fmt.Errorf("%w: missing event name", ErrMalformedFrame)}
	}

	switch env.Event {
	case EventMessage:
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return Event{
				Kind: KindError,
				Name: env.Event,
				Err:  fmt.Errorf("%w: message payload is not a string", ErrMalformedFrame),
			}
		}
		return Event{Kind: KindMessage, Name: env.Event, Text: text}
	case EventDone:
		return Event{Kind: KindDone, Name: env.Event}
	case EventHeartbeat:
		return Event{Kind: KindHeartbeat, Name: env.Event}
	default:
		return Event{Kind: KindOther, Name: env.Event, Data: env.Data}
	}
}
