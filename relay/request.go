package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidMessages is returned when the body is not JSON or its messages
// field is not an array.
var ErrInvalidMessages = errors.New("invalid messages format")

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings are the generation parameters forwarded to the browser.
type Settings struct {
	Temperature       float64 `json:"temperature"`
	MaxTokens         float64 `json:"max_tokens"`
	TopP              float64 `json:"top_p"`
	FrequencyPenalty  float64 `json:"frequency_penalty"`
	PresencePenalty   float64 `json:"presence_penalty"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultSettings returns the parameters used when a request omits them.
func DefaultSettings() Settings {
	return Settings{
		Temperature:       0.7,
		MaxTokens:         26000,
		TopP:              1,
		FrequencyPenalty:  0,
		PresencePenalty:   0,
		RepetitionPenalty: 1,
	}
}

// CompletionRequest is the body of POST /v1/chat/completions. Messages is
// kept raw: the browser receives it exactly as the caller sent it.
type CompletionRequest struct {
	Messages json.RawMessage `json:"messages"`

	Temperature       *float64 `json:"temperature,omitempty"`
	MaxTokens         *float64 `json:"max_tokens,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`

	Stream    *bool `json:"stream,omitempty"`
	NonStream *bool `json:"non_stream,omitempty"`
}

// completionBody mirrors CompletionRequest with the optional fields left
// raw, so a mistyped option cannot fail the whole body.
type completionBody struct {
	Messages json.RawMessage `json:"messages"`

	Temperature       json.RawMessage `json:"temperature"`
	MaxTokens         json.RawMessage `json:"max_tokens"`
	TopP              json.RawMessage `json:"top_p"`
	FrequencyPenalty  json.RawMessage `json:"frequency_penalty"`
	PresencePenalty   json.RawMessage `json:"presence_penalty"`
	RepetitionPenalty json.RawMessage `json:"repetition_penalty"`

	Stream    json.RawMessage `json:"stream"`
	NonStream json.RawMessage `json:"non_stream"`
}

// DecodeCompletionRequest reads and validates a request body. Only the
// messages field is strict; an option of the wrong JSON type is ignored and
// its default applies, so "stream":"false" still streams.
func DecodeCompletionRequest(body io.Reader) (*CompletionRequest, error) {
	var raw completionBody
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessages, err)
	}

	trimmed := bytes.TrimSpace(raw.Messages)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidMessages
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessages, err)
	}

	return &CompletionRequest{
		Messages:          compact.Bytes(),
		Temperature:       optional[float64](raw.Temperature),
		MaxTokens:         optional[float64](raw.MaxTokens),
		TopP:              optional[float64](raw.TopP),
		FrequencyPenalty:  optional[float64](raw.FrequencyPenalty),
		PresencePenalty:   optional[float64](raw.PresencePenalty),
		RepetitionPenalty: optional[float64](raw.RepetitionPenalty),
		Stream:            optional[bool](raw.Stream),
		NonStream:         optional[bool](raw.NonStream),
	}, nil
}

// optional decodes an option, returning nil when it is absent, null or of
// another type.
func optional[T any](raw json.RawMessage) *T {
	if len(raw) == 0 {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// Settings merges the request's parameters over the defaults.
func (r *CompletionRequest) Settings() Settings {
	s := DefaultSettings()
	override := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	override(&s.Temperature, r.Temperature)
	override(&s.MaxTokens, r.MaxTokens)
	override(&s.TopP, r.TopP)
	override(&s.FrequencyPenalty, r.FrequencyPenalty)
	override(&s.PresencePenalty, r.PresencePenalty)
	override(&s.RepetitionPenalty, r.RepetitionPenalty)
	return s
}

// Mode is aggregate when the caller sent stream:false or non_stream:true.
func (r *CompletionRequest) Mode() Mode {
	if (r.Stream != nil && !*r.Stream) || (r.NonStream != nil && *r.NonStream) {
		return ModeAggregate
	}
	return ModeStream
}

// BearerToken extracts the token from an Authorization header. It fails
// unless the header is "Bearer <token>" with a non-empty token.
func BearerToken(header string) (string, bool) {
	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token := strings.TrimSpace(rest)
	if i := strings.IndexByte(token, ' '); i >= 0 {
		token = token[:i]
	}
	return token, token != ""
}
