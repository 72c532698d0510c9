package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, list, inspect and disable the API keys that callers present to quotagate.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyDisableCmd())

	return cmd
}

// ---------- key create ----------

type keyCreateOptions struct {
	name          string
	daily         int64
	monthly       int64
	expiresInDays *int
	metadata      string
}

func (o keyCreateOptions) issueRequest() (service.IssueRequest, error) {
	req := service.IssueRequest{
		Name:         o.name,
		QuotaDaily:   o.daily,
		QuotaMonthly: o.monthly,
	}
	if o.expiresInDays != nil {
		if *o.expiresInDays < 0 || *o.expiresInDays > service.MaxExpiryDays {
			return req, fmt.Errorf("--expires-in-days must be between 0 and %d", service.MaxExpiryDays)
		}
		d := time.Duration(*o.expiresInDays) * 24 * time.Hour
		req.ExpiresIn = &d
	}
	if o.metadata != "" {
		if !json.Valid([]byte(o.metadata)) {
			return req, fmt.Errorf("--metadata must be valid JSON")
		}
		req.Metadata = json.RawMessage(o.metadata)
	}
	return req, nil
}

func newKeyCreateCmd() *cobra.Command {
	var (
		opts       keyCreateOptions
		expires    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long: `Issue a new API key. The raw secret is shown once and cannot be retrieved
again; only its SHA-256 digest is stored. Output is JSON when stdout is not a
terminal.`,
		Example: `  quotagate key create --name "partner-a" --daily 500 --monthly 10000
  quotagate key create --name ci --expires-in-days 0   # never expires
  quotagate key create --metadata '{"team":"search"}' --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("expires-in-days") {
				opts.expiresInDays = &expires
			}
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			asJSON := jsonOutput || !isTerminal(os.Stdout)
			return runKeyCreate(cmd.Context(), svcs, opts, cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Human-readable name for the key")
	cmd.Flags().Int64Var(&opts.daily, "daily", 0, "Daily quota in cost units (default from config)")
	cmd.Flags().Int64Var(&opts.monthly, "monthly", 0, "Monthly quota in cost units (default from config)")
	cmd.Flags().IntVar(&expires, "expires-in-days", 0, "Lifetime in days; 0 means never (default from config)")
	cmd.Flags().StringVar(&opts.metadata, "metadata", "", "Opaque JSON metadata stored with the key")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyCreate(ctx context.Context, svcs *services, opts keyCreateOptions, out io.Writer, asJSON bool) error {
	req, err := opts.issueRequest()
	if err != nil {
		return err
	}
	secret, key, err := svcs.keys.Issue(ctx, req)
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}
	svcs.auditCLI(ctx, "key create", model.AuditCreateKey, key.KeyID, map[string]interface{}{"name": key.Name})

	if asJSON {
		return printJSON(out, struct {
			Secret string `json:"secret"`
			*model.APIKey
		}{secret, key})
	}

	fmt.Fprintln(out, "API key issued:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Secret:   %s\n", secret)
	fmt.Fprintf(out, "  Key ID:   %s\n", key.KeyID)
	if key.Name != "" {
		fmt.Fprintf(out, "  Name:     %s\n", key.Name)
	}
	fmt.Fprintf(out, "  Daily:    %d\n", key.QuotaDaily)
	fmt.Fprintf(out, "  Monthly:  %d\n", key.QuotaMonthly)
	fmt.Fprintf(out, "  Expires:  %s\n", formatUnix(key.ExpiresAt))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		enabledOnly bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			return runKeyList(cmd.Context(), svcs, enabledOnly, cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "Only list enabled keys")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, svcs *services, enabledOnly bool, out io.Writer, asJSON bool) error {
	keys, err := svcs.keys.List(ctx, enabledOnly)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].CreatedAt != keys[j].CreatedAt {
			return keys[i].CreatedAt > keys[j].CreatedAt
		}
		return keys[i].KeyID < keys[j].KeyID
	})

	if asJSON {
		return printJSON(out, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'quotagate key create' to issue one.")
		return nil
	}

	fmt.Fprintf(out, "%-16s %-20s %-10s %-10s %-20s %-8s\n", "KEY ID", "NAME", "DAILY", "MONTHLY", "EXPIRES", "ENABLED")
	fmt.Fprintf(out, "%-16s %-20s %-10s %-10s %-20s %-8s\n", "------", "----", "-----", "-------", "-------", "-------")
	for _, k := range keys {
		enabled := "yes"
		if !k.Enabled {
			enabled = "no"
		}
		fmt.Fprintf(out, "%-16s %-20s %-10d %-10d %-20s %-8s\n",
			k.KeyID, k.Name, k.QuotaDaily, k.QuotaMonthly, formatUnix(k.ExpiresAt), enabled)
	}
	return nil
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <key-id>",
		Short: "Show a key and its current quota usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			return runKeyShow(cmd.Context(), svcs, args[0], cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyShow(ctx context.Context, svcs *services, keyID string, out io.Writer, asJSON bool) error {
	key, err := svcs.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			return fmt.Errorf("no API key with id %q", keyID)
		}
		return fmt.Errorf("get api key: %w", err)
	}
	within, detail, err := svcs.quota.Peek(ctx, keyID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}

	if asJSON {
		return printJSON(out, map[string]interface{}{
			"key":          key,
			"within_quota": within,
			"quota":        detail,
		})
	}

	fmt.Fprintf(out, "Key ID:    %s\n", key.KeyID)
	fmt.Fprintf(out, "Name:      %s\n", key.Name)
	fmt.Fprintf(out, "Enabled:   %t\n", key.Enabled)
	fmt.Fprintf(out, "Created:   %s\n", formatUnix(&key.CreatedAt))
	fmt.Fprintf(out, "Expires:   %s\n", formatUnix(key.ExpiresAt))
	if len(key.Metadata) > 0 {
		fmt.Fprintf(out, "Metadata:  %s\n", key.Metadata)
	}
	fmt.Fprintf(out, "Daily:     %d / %d (%d remaining)\n", detail.Daily.Used, detail.Daily.Quota, detail.Daily.Remaining)
	fmt.Fprintf(out, "Monthly:   %d / %d (%d remaining)\n", detail.Monthly.Used, detail.Monthly.Quota, detail.Monthly.Remaining)
	return nil
}

// ---------- key disable ----------

func newKeyDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "disable <key-id>",
		Aliases: []string{"revoke"},
		Short:   "Disable an API key",
		Long:    "Disable an API key. Every later call with its secret is refused. Usage history is kept.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, _, err := openServices()
			if err != nil {
				return err
			}
			defer svcs.store.Close()
			return runKeyDisable(cmd.Context(), svcs, args[0], cmd.OutOrStdout())
		},
	}

	return cmd
}

func runKeyDisable(ctx context.Context, svcs *services, keyID string, out io.Writer) error {
	if _, err := svcs.keys.Get(ctx, keyID); err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			return fmt.Errorf("no API key with id %q", keyID)
		}
		return fmt.Errorf("get api key: %w", err)
	}
	changed, err := svcs.keys.Disable(ctx, keyID)
	if err != nil {
		return fmt.Errorf("disable api key: %w", err)
	}
	svcs.auditCLI(ctx, "key disable", model.AuditDisableKey, keyID, map[string]interface{}{"changed": changed})
	if changed {
		fmt.Fprintf(out, "Disabled API key %s\n", keyID)
	} else {
		fmt.Fprintf(out, "API key %s was already disabled\n", keyID)
	}
	return nil
}
