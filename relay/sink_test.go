//go:build test

package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPSink_Stream(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, ModeStream)

	require.NoError(t, sink.Begin())
	require.NoError(t, sink.Begin())
	require.NoError(t, sink.WriteChunk(`say "hi"`))
	require.NoError(t, sink.Finish())

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	require.True(t, rec.Flushed)
	require.Equal(t,
		`data: {"choices":[{"delta":{"content":"say \"hi\""}}]}`+"\n\ndata: [DONE]\n\n",
		rec.Body.String())
}

func TestHTTPSink_StreamAbortWritesNothing(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, ModeStream)

	require.NoError(t, sink.Begin())
	require.NoError(t, sink.Abort())
	require.Empty(t, rec.Body.String())
}

func TestHTTPSink_Aggregate(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, ModeAggregate)

	require.NoError(t, sink.Begin())
	created := time.Unix(1_700_000_000, 0)
	require.NoError(t, sink.WriteAggregate(NewAggregateResponse("chatcmpl-1", "kiwi-relay", "abcd", created)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "kiwi-relay",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "abcd"},
			"finish_reason": "stop"
		}]
	}`, rec.Body.String())
}

func TestHTTPSink_AggregateAbort(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, ModeAggregate)

	require.NoError(t, sink.Abort())
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "aborted")
}
