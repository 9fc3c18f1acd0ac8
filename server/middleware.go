package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/seabase/kiwi-relay/logging"
)

// responseWriter records the status and size of a response. It passes
// flushes and hijacks through so SSE streams and WebSocket upgrades keep
// working behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
	hijacked    bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *responseWriter) Flush() {
	w.wroteHeader = true
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.hijacked = true
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RecoveryMiddleware turns a handler panic into a logged 500 with the
// sanitized body, unless the response has already started.
func RecoveryMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := wrapWriter(w)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logging.LogPanic(
				logger.With().
					Str(logging.FieldMethod, r.Method).
					Str(logging.FieldPath, r.URL.Path).
					Logger(),
				logging.ComponentServer,
				rec,
			)

			if !rw.wroteHeader && !rw.hijacked {
				WriteError(rw, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

// AccessLogMiddleware logs one line per request and records the request
// metrics. Routes are labelled by their mux pattern.
func AccessLogMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapWriter(w)

		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rw.status)).Inc()
		requestDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())

		event := logger.Debug()
		switch {
		case rw.status >= http.StatusInternalServerError:
			event = logger.Warn()
		case rw.status >= http.StatusBadRequest:
			event = logger.Info()
		}
		event.
			Str(logging.FieldMethod, r.Method).
			Str(logging.FieldPath, r.URL.Path).
			Int(logging.FieldStatus, rw.status).
			Int64(logging.FieldSize, rw.written).
			Dur(logging.FieldDuration, elapsed).
			Str(logging.FieldRemoteAddr, r.RemoteAddr).
			Msg("request served")
	})
}
