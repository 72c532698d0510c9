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

// errQuotaExceeded makes `quota consume` exit non-zero on refusal.
var errQuotaExceeded = errors.New("quota exceeded")

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or spend quota",
		Long:  "Check a key's remaining quota or record a metered call from the command line.",
	}

	cmd.AddCommand(newQuotaCheckCmd())
	cmd.AddCommand(newQuotaConsumeCmd())

	return cmd
}

// ---------- quota check ----------

func newQuotaCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <key-id>",
		Short: "Show current usage against a key's quotas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			return runQuotaCheck(cmd.Context(), svcs, args[0], cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runQuotaCheck(ctx context.Context, svcs *services, keyID string, out io.Writer, asJSON bool) error {
	within, detail, err := svcs.quota.Peek(ctx, keyID)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			return fmt.Errorf("no API key with id %q", keyID)
		}
		return fmt.Errorf("check quota: %w", err)
	}
	if asJSON {
		return printJSON(out, map[string]interface{}{
			"within_quota": within,
			"key_id":       detail.KeyID,
			"daily":        detail.Daily,
			"monthly":      detail.Monthly,
		})
	}
	printQuotaDetail(out, within, *detail)
	return nil
}

func printQuotaDetail(out io.Writer, within bool, d model.QuotaDetail) {
	fmt.Fprintf(out, "Key %s within quota: %t\n", d.KeyID, within)
	fmt.Fprintf(out, "  Daily:    %d / %d (%d remaining)\n", d.Daily.Used, d.Daily.Quota, d.Daily.Remaining)
	fmt.Fprintf(out, "  Monthly:  %d / %d (%d remaining)\n", d.Monthly.Used, d.Monthly.Quota, d.Monthly.Remaining)
}

// ---------- quota consume ----------

func newQuotaConsumeCmd() *cobra.Command {
	var (
		endpoint   string
		cost       int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "consume <key-id>",
		Short: "Atomically check quota and record one call",
		Long: `Run the same check-and-record step the API performs. Nothing is recorded
when either window would be exceeded, and the command exits non-zero.`,
		Example: `  quotagate quota consume 3f9a0c1b2d4e5f60 --endpoint /v1/search --cost 5`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			req := service.ConsumeRequest{KeyID: args[0], Endpoint: endpoint, Cost: cost, UserAgent: "quotagate-cli"}
			return runQuotaConsume(cmd.Context(), svcs, req, cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Endpoint to record (required)")
	cmd.Flags().Int64Var(&cost, "cost", 1, "Cost units to spend")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func runQuotaConsume(ctx context.Context, svcs *services, req service.ConsumeRequest, out io.Writer, asJSON bool) error {
	adm, err := svcs.quota.TryConsume(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyNotFound):
			return fmt.Errorf("no API key with id %q", req.KeyID)
		}
		return fmt.Errorf("consume: %w", err)
	}
	switch adm.Refused {
	case model.RefusedDisabled:
		return fmt.Errorf("API key %s is disabled", req.KeyID)
	case model.RefusedExpired:
		return fmt.Errorf("API key %s has expired", req.KeyID)
	}

	if asJSON {
		if err := printJSON(out, adm); err != nil {
			return err
		}
	} else if adm.Accepted {
		fmt.Fprintf(out, "Admitted (record %d)\n", adm.RecordID)
		printQuotaDetail(out, adm.Detail.WithinQuota(), adm.Detail)
	} else {
		fmt.Fprintf(out, "Refused: %s quota would be exceeded\n", adm.Exceeded)
		printQuotaDetail(out, false, adm.Detail)
	}

	if !adm.Accepted {
		return fmt.Errorf("%w (%s)", errQuotaExceeded, adm.Exceeded)
	}
	return nil
}
