//go:build test

package duplex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  Kind
		text  string
	}{
		{name: "message", frame: `{"event":"message","data":"hello"}`, kind: KindMessage, text: "hello"},
		{name: "empty message", frame: `{"event":"message","data":""}`, kind: KindMessage, text: ""},
		{name: "done", frame: `{"event":"done"}`, kind: KindDone},
		{name: "heartbeat", frame: `{"event":"heartbeat","data":null}`, kind: KindHeartbeat},
		{name: "non-string message", frame: `{"event":"message","data":{"a":1}}`, kind: KindError},
		{name: "message without payload", frame: `{"event":"message"}`, kind: KindError},
		{name: "not json", frame: `hello`, kind: KindError},
		{name: "missing event", frame: `{"data":"x"}`, kind: KindError},
		{name: "other", frame: `{"event":"start_generate","data":{"messages":"[]"}}`, kind: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeEvent([]byte(tt.frame))
			require.Equal(t, tt.kind, ev.Kind)
			require.Equal(t, tt.text, ev.Text)
			if tt.kind == KindError {
				require.ErrorIs(t, ev.Err, ErrMalformedFrame)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	frame, err := EncodeEnvelope(EventStopGeneration, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"stop_generation"}`, string(frame))

	frame, err = EncodeEnvelope(EventStartGenerate, StartGenerate{
		Messages: `[{"role":"user","content":"hi"}]`,
		Settings: map[string]float64{"temperature": 0.7},
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, EventStartGenerate, env.Event)

	var payload StartGenerate
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, `[{"role":"user","content":"hi"}]`, payload.Messages)

	_, err = EncodeEnvelope(EventMessage, func() {})
	require.Error(t, err)
}
