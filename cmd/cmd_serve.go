package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/seabase/kiwi-relay/config"
	"github.com/seabase/kiwi-relay/donation"
	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
	"github.com/seabase/kiwi-relay/observability"
	redisutil "github.com/seabase/kiwi-relay/redis"
	"github.com/seabase/kiwi-relay/registry"
	"github.com/seabase/kiwi-relay/relay"
	"github.com/seabase/kiwi-relay/server"
)

const (
	flagConfig   = "config"
	flagListen   = "listen"
	flagLogLevel = "log-level"

	// workerPoolSize bounds fire-and-forget work: supersession closes and
	// async metric observations.
	workerPoolSize = 64
)

// ServeCmd returns the command that runs the relay.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay server.

Browser tabs connect to /socket?key=<key> and stay connected. API clients
call POST /v1/chat/completions with "Authorization: Bearer <key>" and the
request is relayed to the tab registered under that key.

Configuration is read from the optional YAML file, then .env and
KIWI_RELAY_* environment variables, then flags. When a config file is given
it is watched, and log level and rate limit changes apply without a restart.

Example:
  kiwi-relay serve --config kiwi-relay.yaml
  PORT=3000 kiwi-relay serve --log-level debug
`,
		RunE: runServe,
	}

	cmd.Flags().String(flagConfig, "", "Path to the YAML config file")
	cmd.Flags().String(flagListen, "", "Public listen address (overrides config)")
	cmd.Flags().String(flagLogLevel, "", "Log level: debug, info, warn, error (overrides config)")

	return cmd
}

// loadServeConfig applies flag overrides on top of config.Load.
func loadServeConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	if listen, _ := cmd.Flags().GetString(flagListen); listen != "" {
		cfg.ListenAddr = listen
	}
	if level, _ := cmd.Flags().GetString(flagLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, configPath, nil
}

func machineConfig(cfg config.RelayConfig) relay.MachineConfig {
	return relay.MachineConfig{
		DisconnectGrace:      cfg.DisconnectGrace,
		OrphanIdleTimeout:    cfg.OrphanIdleTimeout,
		DoneCheckDelay:       cfg.DoneCheckDelay,
		QuiescenceWindow:     cfg.QuiescenceWindow,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		MaxFrameChars:        cfg.MaxFrameChars,
	}
}

func rateLimiterConfig(cfg config.RateLimitConfig) server.RateLimiterConfig {
	return server.RateLimiterConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		TrustForwardedFor: cfg.TrustForwardedFor,
		IdleTTL:           cfg.IdleTTL,
	}
}

// openRedis connects when a component needs Redis and returns nil
// otherwise.
func openRedis(ctx context.Context, cfg *config.Config) (*redisutil.Client, error) {
	if !cfg.Donations.Enabled || cfg.Donations.Backend != config.DonationBackendRedis {
		return nil, nil
	}

	client, err := redisutil.NewClient(ctx, redisutil.ClientConfig{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// universal unwraps client without turning a nil pointer into a non-nil
// interface.
func universal(client *redisutil.Client) goredis.UniversalClient {
	if client == nil {
		return nil
	}
	return client.UniversalClient
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, configPath, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	levelFlag, _ := cmd.Flags().GetString(flagLogLevel)

	logger := logging.NewLoggerFromConfig(cfg.Logging)
	observability.SetBuildInfo(buildVersion, buildCommit)
	startTime := time.Now()

	clock := clockwork.NewRealClock()
	pool := pond.NewPool(workerPoolSize)
	defer pool.StopAndWait()

	obsServer := observability.NewServer(logger, observability.ServerConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddr:    cfg.Metrics.Addr,
		PprofEnabled:   cfg.Pprof.Enabled,
		PprofAddr:      cfg.Pprof.Addr,
	})
	if err := obsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	defer func() { _ = obsServer.Stop() }()

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		logger.Info().Int("pool_size", redisClient.PoolSize()).Msg("connected to redis")

		if cfg.Redis.HealthCheckInterval > 0 {
			health := redisutil.NewHealthMonitor(logger, redisClient, clock, redisutil.HealthConfig{
				Interval:             cfg.Redis.HealthCheckInterval,
				MemoryWarningPercent: cfg.Redis.MemoryWarningPercent,
			})
			health.Start(ctx)
			defer func() { _ = health.Close() }()

			obsServer.SetReadinessCheck(func(context.Context) error {
				if !health.Healthy() {
					return errors.New("redis unreachable")
				}
				return nil
			})
		}
	}

	reg := registry.New(logger, registry.Config{SupersedeGrace: cfg.Socket.SupersedeGrace}, clock, pool)

	monitor := registry.NewHeartbeatMonitor(logger, reg, registry.HeartbeatMonitorConfig{
		Interval:   cfg.Socket.HeartbeatInterval,
		StaleAfter: cfg.Socket.StaleAfter,
	}, clock)
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}
	defer monitor.Stop()

	endpoint := duplex.NewEndpoint(logger, reg, duplex.EndpointConfig{
		MinKeyLength: cfg.Socket.MinKeyLength,
		Conn: duplex.ConnConfig{
			PongWait:        cfg.Socket.PongWait,
			WriteWait:       cfg.Socket.WriteWait,
			MaxMessageBytes: cfg.Socket.MaxMessageBytes,
		},
	})

	stats := relay.NewStats(clock)
	completions := relay.NewCompletionHandler(
		logger,
		reg,
		stats,
		clock,
		relay.NewMetricRecorder(pool),
		relay.HandlerConfig{
			Machine: machineConfig(cfg.Relay),
			Model:   cfg.Relay.Model,
		},
	)

	handlers := server.Handlers{
		Completions: completions,
		Socket:      endpoint,
		Stats: func() relay.StatsSnapshot {
			return stats.Snapshot(reg.Size())
		},
	}

	if cfg.Donations.Enabled {
		store, err := donation.OpenStore(ctx, cfg.Donations, universal(redisClient))
		if err != nil {
			return fmt.Errorf("failed to open donation store: %w", err)
		}
		defer func() { _ = store.Close() }()

		handlers.Donations = donation.NewRecorder(
			logger,
			store,
			clock,
			cfg.Donations.Backend,
			donation.RecorderConfigFrom(cfg.Donations),
		)
		logger.Info().Str(logging.FieldBackend, cfg.Donations.Backend).Msg("donations enabled")
	}

	var limiter *server.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = server.NewRateLimiter(logger, rateLimiterConfig(cfg.RateLimit), clock)
	}

	srv := server.New(logger, server.Config{
		ListenAddr: cfg.ListenAddr,
		StaticDir:  cfg.StaticDir,
	}, handlers, limiter)
	srv.RegisterOnShutdown(endpoint.Shutdown)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	if configPath != "" {
		watcher, err := config.NewWatcher(logger, configPath)
		if err != nil {
			logger.Warn().Err(err).Msg("config hot reload disabled")
		} else {
			defer func() { _ = watcher.Close() }()
			go logging.RecoverGoRoutine(logger, logging.ComponentConfigWatcher, func(ctx context.Context) {
				watcher.Run(ctx, func(next *config.Config) {
					applyReload(logger, next, levelFlag, limiter)
				})
			})(ctx)
		}
	}

	observability.RecordStartupDuration("relay", time.Since(startTime))
	logger.Info().
		Str(logging.FieldListenAddr, srv.Addr().String()).
		Str("version", buildVersion).
		Msg("kiwi-relay started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

// applyReload applies the settings that can change while running. A log
// level given on the command line wins over the file.
func applyReload(logger logging.Logger, next *config.Config, levelFlag string, limiter *server.RateLimiter) {
	if levelFlag == "" {
		logging.SetLevel(next.Logging.Level)
	}

	if limiter == nil {
		if next.RateLimit.Enabled {
			logger.Warn().Msg("enabling rate limiting requires a restart")
		}
		return
	}
	if !next.RateLimit.Enabled {
		limiter.SetLimit(0, 0)
		return
	}
	limiter.SetLimit(next.RateLimit.RequestsPerMinute, next.RateLimit.Burst)
}
