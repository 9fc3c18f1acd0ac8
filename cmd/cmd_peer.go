package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/seabase/kiwi-relay/logging"
	"github.com/seabase/kiwi-relay/peer"
)

// PeerCmd returns the development peer command.
func PeerCmd() *cobra.Command {
	var (
		serverURL string
		key       string
		heartbeat time.Duration
		chunk     int
		delay     time.Duration
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a development peer that stands in for a browser tab",
		Long: `Connect to a relay's /socket under a key and answer every generation
request by echoing the last user message back in chunks.

The peer reconnects with exponential backoff (1s up to 30s) and sends a
heartbeat every --heartbeat interval.

Example:
  kiwi-relay peer --server http://localhost:8080 --key sk-my-dev-key
  curl -N localhost:8080/v1/chat/completions \
    -H "Authorization: Bearer sk-my-dev-key" \
    -d '{"messages":[{"role":"user","content":"hi"}]}'
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logConfig := logging.DefaultConfig()
			logConfig.Level = logLevel
			logConfig.Format = logFormat
			logConfig.Async = false
			logger := logging.NewLoggerFromConfig(logConfig)

			config := peer.DefaultConfig()
			config.ServerURL = serverURL
			config.Key = key
			config.HeartbeatInterval = heartbeat
			config.ChunkChars = chunk
			config.ChunkDelay = delay

			p, err := peer.New(logger, config, clockwork.NewRealClock())
			if err != nil {
				return fmt.Errorf("failed to create peer: %w", err)
			}

			logger.Info().
				Str("server", serverURL).
				Str(logging.FieldKey, logging.ObfuscateKey(key)).
				Msg("starting development peer")
			p.Run(ctx)
			return nil
		},
	}

	defaults := peer.DefaultConfig()
	cmd.Flags().StringVar(&serverURL, "server", defaults.ServerURL, "Relay base URL")
	cmd.Flags().StringVar(&key, "key", "", "Key to register under (required)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", defaults.HeartbeatInterval, "Heartbeat interval")
	cmd.Flags().IntVar(&chunk, "chunk-chars", defaults.ChunkChars, "Characters per reply chunk")
	cmd.Flags().DurationVar(&delay, "chunk-delay", defaults.ChunkDelay, "Delay between reply chunks")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format: json or text")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
