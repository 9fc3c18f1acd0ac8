// Package server is the public HTTP listener: the completion endpoint, the
// browser socket, stats, donations and the supporting middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/seabase/kiwi-relay/logging"
)

const (
	// MaxConcurrentStreams is the maximum concurrent HTTP/2 streams per connection.
	MaxConcurrentStreams = 250
	// DefaultIdleTimeout is how long to keep idle keep-alive connections open.
	DefaultIdleTimeout = 120 * time.Second
	// GracefulShutdownTimeout bounds the wait for in-flight requests.
	GracefulShutdownTimeout = 30 * time.Second
	// ReadHeaderTimeout bounds slow clients sending headers.
	ReadHeaderTimeout = 10 * time.Second
)

// Config configures the public listener.
type Config struct {
	ListenAddr string
	StaticDir  string
}

// Server serves the public API.
type Server struct {
	logger   logging.Logger
	config   Config
	handlers Handlers
	limiter  *RateLimiter

	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the server. limiter may be nil to disable rate limiting.
func New(logger logging.Logger, config Config, handlers Handlers, limiter *RateLimiter) *Server {
	s := &Server{
		logger:   logging.ForComponent(logger, logging.ComponentServer),
		config:   config,
		handlers: handlers,
		limiter:  limiter,
	}

	// Streaming responses run for minutes, so there is no write timeout;
	// sessions bound themselves.
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s
}

// Handler returns the full middleware chain. h2c is outermost so every
// HTTP/2 stream passes through recovery and the access log.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.routes()
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = CORSMiddleware(handler)
	handler = AccessLogMiddleware(s.logger, handler)
	handler = RecoveryMiddleware(s.logger, handler)

	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: MaxConcurrentStreams,
	})
}

// RegisterOnShutdown registers fn to run when shutdown begins. Hijacked
// connections are not closed by the http.Server and need one of these.
func (s *Server) RegisterOnShutdown(fn func()) {
	s.server.RegisterOnShutdown(fn)
}

// Start listens and serves in the background until ctx is done or Close is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	s.started = true
	ctx, s.cancelFn = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.limiter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logging.RecoverGoRoutine(s.logger, logging.ComponentRateLimiter, s.limiter.Run)(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str(logging.FieldListenAddr, ln.Addr().String()).Msg("starting HTTP server")

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), GracefulShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("error during server shutdown")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the server down gracefully and waits for it.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancelFn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info().Msg("HTTP server closed")
	return nil
}
