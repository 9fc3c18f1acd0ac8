package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/seabase/kiwi-relay/config"
	"github.com/seabase/kiwi-relay/donation"
)

const previewChars = 60

// DonationsCmd returns the command group for the donation log.
func DonationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donations",
		Short: "Inspect donated transcripts",
	}
	cmd.AddCommand(donationsListCmd())
	return cmd
}

func donationsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent donations",
		Long: `List the most recent donations from the configured store (memory,
sqlite or redis). The memory backend only lives inside a running server, so
this command is useful with sqlite and redis.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			redisClient, err := openRedis(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			if redisClient != nil {
				defer func() { _ = redisClient.Close() }()
			}

			store, err := donation.OpenStore(ctx, cfg.Donations, universal(redisClient))
			if err != nil {
				return fmt.Errorf("failed to open donation store: %w", err)
			}
			defer func() { _ = store.Close() }()

			return listDonations(ctx, store, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&configPath, flagConfig, "", "Path to the YAML config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of donations to display")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func listDonations(ctx context.Context, store donation.Store, limit int, jsonOutput bool) error {
	total, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count donations: %w", err)
	}

	donations, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load donations: %w", err)
	}

	if jsonOutput {
		output, err := json.MarshalIndent(donations, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Stored donations: %d (showing %d)\n\n", total, len(donations))
	if len(donations) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\tRECEIVED\tMESSAGES\tFIRST MESSAGE\n")
	for _, d := range donations {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			d.ID,
			d.ReceivedAt.Format(time.RFC3339),
			len(d.Messages),
			preview(d.Messages),
		)
	}
	return w.Flush()
}

func preview(messages []json.RawMessage) string {
	if len(messages) == 0 {
		return ""
	}

	var first struct {
		Content any `json:"content"`
	}
	if err := json.Unmarshal(messages[0], &first); err != nil {
		return ""
	}
	text, ok := first.Content.(string)
	if !ok {
		return "(non-text content)"
	}
	if utf8.RuneCountInString(text) > previewChars {
		return string([]rune(text)[:previewChars]) + "..."
	}
	return text
}
