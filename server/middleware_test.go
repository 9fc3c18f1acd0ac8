//go:build test

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware_Panic(t *testing.T) {
	handler := RecoveryMiddleware(zerolog.Nop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":true,"message":"Internal server error","statusCode":500}`, rec.Body.String())
}

func TestRecoveryMiddleware_PanicAfterWrite(t *testing.T) {
	handler := RecoveryMiddleware(zerolog.Nop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "partial", rec.Body.String())
}

func TestRecoveryMiddleware_AbortHandlerPropagates(t *testing.T) {
	handler := RecoveryMiddleware(zerolog.Nop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestAccessLogMiddleware_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := AccessLogMiddleware(zerolog.Nop(), mux)

	counter := requestsTotal.WithLabelValues("GET /things/{id}", "202")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/things/1", "/things/2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	require.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestResponseWriter_PassesFlushThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapWriter(rec)

	require.NoError(t, http.NewResponseController(rw).Flush())
	require.True(t, rec.Flushed)
	require.True(t, rw.wroteHeader)
	require.Same(t, rw, wrapWriter(rw))
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := wrapWriter(httptest.NewRecorder())

	_, _, err := rw.Hijack()
	require.Error(t, err)
	require.False(t, rw.hijacked)
}
