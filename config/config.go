// Package config loads the relay configuration from an optional YAML file,
// a .env file and KIWI_RELAY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/seabase/kiwi-relay/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KIWI_RELAY_"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Donation storage backends.
const (
	DonationBackendMemory = "memory"
	DonationBackendRedis  = "redis"
	DonationBackendSQLite = "sqlite"
)

// Config is the configuration for the relay server.
type Config struct {
	// ListenAddr is the public HTTP listener (completions, stats, socket).
	ListenAddr string `yaml:"listen_addr"`

	// StaticDir, when set, is served for paths no route claims.
	StaticDir string `yaml:"static_dir"`

	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Pprof     PprofConfig     `yaml:"pprof"`
	Relay     RelayConfig     `yaml:"relay"`
	Socket    SocketConfig    `yaml:"socket"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Donations DonationsConfig `yaml:"donations"`
	Redis     RedisConfig     `yaml:"redis"`
}

// RelayConfig holds the relay session timings.
type RelayConfig struct {
	// DisconnectGrace debounces caller disconnects. A chunk arriving inside
	// the window keeps the session alive.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// OrphanIdleTimeout closes a session whose caller is gone once the
	// browser has been silent this long.
	OrphanIdleTimeout time.Duration `yaml:"orphan_idle_timeout"`

	// DoneCheckDelay is the delay between "done" and the first quiescence
	// check.
	DoneCheckDelay time.Duration `yaml:"done_check_delay"`

	// QuiescenceWindow is the silence required after the last chunk before
	// a drained session is finalized.
	QuiescenceWindow time.Duration `yaml:"quiescence_window"`

	// MaxConsecutiveErrors aborts the generation when reached.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// MaxFrameChars splits larger chunks into several SSE frames.
	MaxFrameChars int `yaml:"max_frame_chars"`

	// Model is reported in aggregated responses.
	Model string `yaml:"model"`
}

// SocketConfig holds the duplex endpoint and registry settings.
type SocketConfig struct {
	MinKeyLength      int           `yaml:"min_key_length"`
	SupersedeGrace    time.Duration `yaml:"supersede_grace"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	PongWait          time.Duration `yaml:"pong_wait"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`

	// TrustForwardedFor takes the client IP from X-Forwarded-For. Enable it
	// only behind a reverse proxy that sets the header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// IdleTTL evicts per-client limiters that have not been used for this
	// long.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DonationsConfig configures the /donate transcript log.
type DonationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`

	MaxRecords          int     `yaml:"max_records"`
	CompareWindow       int     `yaml:"compare_window"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxStoredMessages   int     `yaml:"max_stored_messages"`

	SQLitePath  string `yaml:"sqlite_path"`
	RedisStream string `yaml:"redis_stream"`

	// Compression is the zstd level for records kept in Redis: "fastest",
	// "default", "better" or "best".
	Compression string `yaml:"compression"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		Logging:    logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Pprof: PprofConfig{
			Enabled: false,
			Addr:    "localhost:6060",
		},
		Relay: RelayConfig{
			DisconnectGrace:      2 * time.Second,
			OrphanIdleTimeout:    60 * time.Second,
			DoneCheckDelay:       4 * time.Second,
			QuiescenceWindow:     2 * time.Second,
			MaxConsecutiveErrors: 3,
			MaxFrameChars:        8000,
			Model:                "kiwi-relay",
		},
		Socket: SocketConfig{
			MinKeyLength:      10,
			SupersedeGrace:    100 * time.Millisecond,
			HeartbeatInterval: 30 * time.Second,
			StaleAfter:        90 * time.Second,
			PongWait:          60 * time.Second,
			WriteWait:         10 * time.Second,
			MaxMessageBytes:   4 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 100,
			Burst:             100,
			TrustForwardedFor: true,
			IdleTTL:           10 * time.Minute,
		},
		Donations: DonationsConfig{
			Enabled:             true,
			Backend:             DonationBackendMemory,
			MaxRecords:          1000,
			CompareWindow:       100,
			SimilarityThreshold: 0.90,
			MaxStoredMessages:   15,
			SQLitePath:          "donations.db",
			RedisStream:         "kiwi:donations",
			Compression:         "default",
		},
		Redis: RedisConfig{
			URL:                  "redis://localhost:6379",
			HealthCheckInterval:  30 * time.Second,
			MemoryWarningPercent: 80,
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", ErrInvalidConfig)
	}

	if err := c.Relay.validate(); err != nil {
		return err
	}

	if err := c.Socket.validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: rate_limit.requests_per_minute must be positive", ErrInvalidConfig)
	}

	if c.Donations.Enabled {
		if err := c.validateDonations(); err != nil {
			return err
		}
	}

	return nil
}

func (r RelayConfig) validate() error {
	switch {
	case r.DisconnectGrace <= 0:
		return fmt.Errorf("%w: relay.disconnect_grace must be positive", ErrInvalidConfig)
	case r.OrphanIdleTimeout < r.DisconnectGrace:
		return fmt.Errorf("%w: relay.orphan_idle_timeout must be at least relay.disconnect_grace", ErrInvalidConfig)
	case r.DoneCheckDelay <= 0:
		return fmt.Errorf("%w: relay.done_check_delay must be positive", ErrInvalidConfig)
	case r.QuiescenceWindow <= 0 || r.QuiescenceWindow > r.DoneCheckDelay:
		return fmt.Errorf("%w: relay.quiescence_window must be in (0, done_check_delay]", ErrInvalidConfig)
	case r.MaxConsecutiveErrors <= 0:
		return fmt.Errorf("%w: relay.max_consecutive_errors must be positive", ErrInvalidConfig)
	case r.MaxFrameChars <= 0:
		return fmt.Errorf("%w: relay.max_frame_chars must be positive", ErrInvalidConfig)
	}
	return nil
}

func (s SocketConfig) validate() error {
	switch {
	case s.MinKeyLength <= 0:
		return fmt.Errorf("%w: socket.min_key_length must be positive", ErrInvalidConfig)
	case s.PongWait <= 0 || s.WriteWait <= 0:
		return fmt.Errorf("%w: socket.pong_wait and socket.write_wait must be positive", ErrInvalidConfig)
	case s.HeartbeatInterval <= 0 || s.StaleAfter < s.HeartbeatInterval:
		return fmt.Errorf("%w: socket.stale_after must be at least socket.heartbeat_interval", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateDonations() error {
	d := c.Donations
	if d.MaxRecords <= 0 || d.CompareWindow <= 0 || d.MaxStoredMessages <= 0 {
		return fmt.Errorf("%w: donations limits must be positive", ErrInvalidConfig)
	}
	if d.SimilarityThreshold <= 0 || d.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: donations.similarity_threshold must be in (0, 1]", ErrInvalidConfig)
	}

	switch d.Backend {
	case DonationBackendMemory:
	case DonationBackendSQLite:
		if d.SQLitePath == "" {
			return fmt.Errorf("%w: donations.sqlite_path is required", ErrInvalidConfig)
		}
	case DonationBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url is required for the redis donation backend", ErrInvalidConfig)
		}
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("%w: invalid redis.url: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown donations.backend %q", ErrInvalidConfig, d.Backend)
	}
	return nil
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then .env and environment overrides. The result is
// validated.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "STATIC_DIR"); v != "" {
		c.StaticDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvPrefix + "DONATIONS_BACKEND"); v != "" {
		c.Donations.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "DONATIONS_SQLITE_PATH"); v != "" {
		c.Donations.SQLitePath = v
	}
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_RPM"); v != "" {
		rpm, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sRATE_LIMIT_RPM: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		c.RateLimit.RequestsPerMinute = rpm
	}
	return nil
}
