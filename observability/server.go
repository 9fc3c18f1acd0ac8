package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seabase/kiwi-relay/logging"
)

// ServerConfig contains configuration for the observability server.
type ServerConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
	PprofEnabled   bool   `yaml:"pprof_enabled"`
	PprofAddr      string `yaml:"pprof_addr"`

	// Registry is the gatherer served on /metrics. When nil the relay
	// registry is served and the runtime collector is started; tests pass
	// an isolated registry to skip both.
	Registry prometheus.Gatherer `yaml:"-"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsEnabled: true,
		MetricsAddr:    ":9090",
		PprofEnabled:   false,
		PprofAddr:      "localhost:6060",
	}
}

// ReadinessCheck returns nil when the service is ready, or the reason it
// is not.
type ReadinessCheck func(ctx context.Context) error

// Server provides the metrics, health, readiness and pprof endpoints on
// listeners separate from the public API.
type Server struct {
	logger         logging.Logger
	config         ServerConfig
	mu             sync.Mutex
	listeners      []*listener
	rm             *RuntimeMetricsCollector
	running        bool
	readinessCheck ReadinessCheck
}

// listener is one named http.Server bound to its own address.
type listener struct {
	name string
	srv  *http.Server
	addr net.Addr
}

// NewServer creates a new observability server.
func NewServer(logger logging.Logger, config ServerConfig) *Server {
	if config.PprofAddr == "" {
		config.PprofAddr = "localhost:6060"
	}

	return &Server{
		logger: logging.ForComponent(logger, logging.ComponentObservability),
		config: config,
	}
}

// Start begins serving. The servers shut down when ctx is cancelled or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	began := time.Now()

	if s.config.MetricsEnabled {
		gatherer := s.config.Registry
		if gatherer == nil {
			gatherer = Gatherer()
			s.rm = NewRuntimeMetricsCollector(s.logger, DefaultRuntimeMetricsCollectorConfig(), RelayFactory)
			if err := s.rm.Start(ctx); err != nil {
				return fmt.Errorf("failed to start runtime metrics collector: %w", err)
			}
		}
		if err := s.serve("metrics", s.config.MetricsAddr, s.metricsMux(gatherer)); err != nil {
			_ = s.shutdownLocked()
			return err
		}
	}

	if s.config.PprofEnabled {
		if err := s.serve("pprof", s.config.PprofAddr, pprofMux()); err != nil {
			_ = s.shutdownLocked()
			return err
		}
	}

	s.running = true
	RecordStartupDuration(logging.ComponentObservability, time.Since(began))

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

func (s *Server) metricsMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		check := s.readinessCheck
		s.mu.Unlock()

		if check != nil {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "Not Ready: %s", err)
				return
			}
		}
		_, _ = w.Write([]byte("Ready"))
	})
	return mux
}

func pprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// serve binds addr and serves handler on it in the background. Callers hold
// s.mu.
func (s *Server) serve(name, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for %s server on %s: %w", name, addr, err)
	}

	l := &listener{
		name: name,
		srv:  &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr(),
	}
	s.listeners = append(s.listeners, l)

	go func() {
		s.logger.Info().Str(logging.FieldAddr, l.addr.String()).Msgf("serving %s", name)
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msgf("%s server failed", name)
		}
	}()
	return nil
}

// shutdownLocked stops every listener and the runtime collector. Callers
// hold s.mu.
func (s *Server) shutdownLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, l := range s.listeners {
		if err := l.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", l.name, err))
		}
	}
	s.listeners = nil

	if s.rm != nil {
		s.rm.Stop()
		s.rm = nil
	}
	return errors.Join(errs...)
}

// Stop gracefully shuts down the observability servers. It is safe to call
// more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	err := s.shutdownLocked()
	s.running = false
	s.logger.Info().Msg("observability servers stopped")
	return err
}

// SetReadinessCheck sets the check behind /ready. It may be called after
// Start for checks that depend on components initialized later.
func (s *Server) SetReadinessCheck(check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readinessCheck = check
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MetricsAddr returns the bound metrics listener address, or nil before
// Start or when metrics are disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.name == "metrics" {
			return l.addr
		}
	}
	return nil
}
