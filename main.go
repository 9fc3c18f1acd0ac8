package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/seabase/kiwi-relay/cmd"
)

func main() {
	cmd.SetBuildInfo(ShortVersion(), Commit, VersionInfo())

	rootCmd := &cobra.Command{
		Use:   "kiwi-relay",
		Short: "OpenAI-compatible relay to LLMs running in browser tabs",
		Long: `kiwi-relay exposes an OpenAI-compatible chat completions endpoint and
relays every request to a browser tab that generates the answer.

A tab connects over a WebSocket under an opaque key. Requests that carry the
same key as a bearer token are forwarded to that tab, and the tab's output is
streamed back as server-sent events or returned as one JSON completion.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.ServeCmd())
	rootCmd.AddCommand(cmd.PeerCmd())
	rootCmd.AddCommand(cmd.DonationsCmd())
	rootCmd.AddCommand(cmd.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
