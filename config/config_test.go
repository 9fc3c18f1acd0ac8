//go:build test

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seabase/kiwi-relay/logging"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2*time.Second, cfg.Relay.DisconnectGrace)
	require.Equal(t, 8000, cfg.Relay.MaxFrameChars)
	require.Equal(t, 10, cfg.Socket.MinKeyLength)
	require.Equal(t, 100, cfg.RateLimit.RequestsPerMinute)
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
listen_addr: "127.0.0.1:9999"
logging:
  level: debug
relay:
  disconnect_grace: 3s
donations:
  backend: sqlite
  sqlite_path: /tmp/donations.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 3*time.Second, cfg.Relay.DisconnectGrace)
	require.Equal(t, 4*time.Second, cfg.Relay.DoneCheckDelay)
	require.Equal(t, DonationBackendSQLite, cfg.Donations.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `listen_addr: ":7000"`)
	t.Setenv("PORT", "7100")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")
	t.Setenv(EnvPrefix+"RATE_LIMIT_RPM", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7100", cfg.ListenAddr)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 5, cfg.RateLimit.RequestsPerMinute)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := writeConfig(t, t.TempDir(), "listen_addr: [")
	_, err = Load(path)
	require.Error(t, err)

	t.Setenv(EnvPrefix+"RATE_LIMIT_RPM", "many")
	_, err = Load("")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"zero disconnect grace", func(c *Config) { c.Relay.DisconnectGrace = 0 }},
		{"quiescence longer than check delay", func(c *Config) { c.Relay.QuiescenceWindow = 5 * time.Second }},
		{"orphan timeout below grace", func(c *Config) { c.Relay.OrphanIdleTimeout = time.Second }},
		{"zero error budget", func(c *Config) { c.Relay.MaxConsecutiveErrors = 0 }},
		{"stale before heartbeat", func(c *Config) { c.Socket.StaleAfter = time.Second }},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
		{"unknown donation backend", func(c *Config) { c.Donations.Backend = "s3" }},
		{"threshold above one", func(c *Config) { c.Donations.SimilarityThreshold = 1.5 }},
		{"sqlite without path", func(c *Config) {
			c.Donations.Backend = DonationBackendSQLite
			c.Donations.SQLitePath = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	watcher, err := NewWatcher(logging.NewLoggerFromConfig(logging.DefaultConfig()), path)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go watcher.Run(ctx, func(c *Config) { reloaded <- c })

	// Invalid edits are skipped.
	writeConfig(t, dir, "logging:\n  level: loud\n")
	time.Sleep(2 * reloadDebounce)
	writeConfig(t, dir, "logging:\n  level: debug\n")

	select {
	case cfg := <-reloaded:
		require.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
