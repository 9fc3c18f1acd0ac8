package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sink is where a session writes its response.
type Sink interface {
	// Begin commits the response headers. Stream mode calls it before the
	// browser is asked to generate.
	Begin() error
	// WriteChunk writes one SSE frame.
	WriteChunk(text string) error
	// Finish ends a stream with the [DONE] marker.
	Finish() error
	// WriteAggregate writes the single JSON response.
	WriteAggregate(resp AggregateResponse) error
	// Abort ends a response whose generation was cut short.
	Abort() error
}

type streamDelta struct {
	Content string `json:"content"`
}

type streamChoice struct {
	Delta streamDelta `json:"delta"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

// AggregateResponse is the non-streaming chat.completion body.
type AggregateResponse struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model,omitempty"`
	Choices []AggregateChoice `json:"choices"`
}

// AggregateChoice is one choice of an AggregateResponse.
type AggregateChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// NewAggregateResponse builds the response for content.
func NewAggregateResponse(id, model, content string, created time.Time) AggregateResponse {
	return AggregateResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created.Unix(),
		Model:   model,
		Choices: []AggregateChoice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

// httpSink writes to an http.ResponseWriter. The writer is used directly,
// never wrapped, so that flushing through http.ResponseController keeps
// working behind any middleware that preserves Unwrap.
type httpSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	mode    Mode
	started bool
}

// NewHTTPSink returns a Sink over w.
func NewHTTPSink(w http.ResponseWriter, mode Mode) Sink {
	return &httpSink{w: w, rc: http.NewResponseController(w), mode: mode}
}

func (s *httpSink) Begin() error {
	if s.started || s.mode != ModeStream {
		return nil
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *httpSink) WriteChunk(text string) error {
	payload, err := json.Marshal(streamChunk{Choices: []streamChoice{{Delta: streamDelta{Content: text}}}})
	if err != nil {
		return fmt.Errorf("failed to encode chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return s.flush()
}

func (s *httpSink) Finish() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("failed to write stream terminator: %w", err)
	}
	return s.flush()
}

func (s *httpSink) WriteAggregate(resp AggregateResponse) error {
	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(s.w).Encode(resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (s *httpSink) Abort() error {
	if s.mode == ModeStream {
		// Headers are out; ending without [DONE] tells the client the
		// stream is incomplete.
		return nil
	}
	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(http.StatusBadGateway)
	_, err := fmt.Fprint(s.w, `{"error":"generation aborted after repeated errors"}`)
	return err
}

func (s *httpSink) flush() error {
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}
