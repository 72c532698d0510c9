package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report recorded usage",
		Long:  "Aggregate the usage ledger per key or across all keys.",
	}

	cmd.AddCommand(newUsageStatsCmd())
	cmd.AddCommand(newUsageSummaryCmd())

	return cmd
}

// ---------- usage stats ----------

func newUsageStatsCmd() *cobra.Command {
	var (
		window     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats <key-id>",
		Short: "Usage statistics for one key",
		Example: `  quotagate usage stats 3f9a0c1b2d4e5f60
  quotagate usage stats 3f9a0c1b2d4e5f60 --window trailing_day --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := model.ParseWindow(window)
			if err != nil {
				return err
			}
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			return runUsageStats(cmd.Context(), svcs, args[0], w, cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().StringVar(&window, "window", "all_time", "trailing_day, trailing_month or all_time")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUsageStats(ctx context.Context, svcs *services, keyID string, window model.Window, out io.Writer, asJSON bool) error {
	if _, err := svcs.keys.Get(ctx, keyID); err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			return fmt.Errorf("no API key with id %q", keyID)
		}
		return fmt.Errorf("get api key: %w", err)
	}
	stats, err := svcs.ledger.Stats(ctx, keyID, window)
	if err != nil {
		return fmt.Errorf("compute usage: %w", err)
	}

	if asJSON {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Key %s, window %s\n", stats.KeyID, stats.Window)
	fmt.Fprintf(out, "  Requests:  %d\n", stats.TotalRequests)
	fmt.Fprintf(out, "  Cost:      %d\n", stats.TotalCost)
	if len(stats.Endpoints) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %-40s %-10s %-10s\n", "ENDPOINT", "REQUESTS", "COST")
	for _, e := range stats.Endpoints {
		fmt.Fprintf(out, "  %-40s %-10d %-10d\n", e.Endpoint, e.Requests, e.Cost)
	}
	return nil
}

// ---------- usage summary ----------

func newUsageSummaryCmd() *cobra.Command {
	var (
		window     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Ledger-wide usage totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := model.ParseWindow(window)
			if err != nil {
				return err
			}
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()

			sum, err := svcs.ledger.Summary(cmd.Context(), w)
			if err != nil {
				return fmt.Errorf("summarize usage: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, sum)
			}
			fmt.Fprintf(out, "Window:    %s\n", sum.Window)
			fmt.Fprintf(out, "Keys:      %d (%d enabled)\n", sum.TotalKeys, sum.EnabledKeys)
			fmt.Fprintf(out, "Requests:  %d\n", sum.TotalRequests)
			fmt.Fprintf(out, "Cost:      %d\n", sum.TotalCost)
			return nil
		},
	}

	cmd.Flags().StringVar(&window, "window", "all_time", "trailing_day, trailing_month or all_time")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
