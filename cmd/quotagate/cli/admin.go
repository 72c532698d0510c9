package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin credentials",
		Long:  "Mint session tokens for the admin API.",
	}

	cmd.AddCommand(newAdminTokenCmd())

	return cmd
}

// ---------- admin token ----------

func newAdminTokenCmd() *cobra.Command {
	var (
		subject    string
		ttl        time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin session JWT",
		Long: `Mint a short-lived admin session JWT signed with the configured secret. The
admin token is read from config or ` + envName("auth.admin_token") + `, or
prompted for when running in a terminal.`,
		Example: `  quotagate admin token --subject ops --ttl 15m
  curl -H "Authorization: Bearer $(quotagate admin token)" localhost:8787/api/v1/admin/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.AdminToken == "" {
				if !isTerminal(os.Stdin) {
					return fmt.Errorf("no admin token configured; set auth.admin_token or %s", envName("auth.admin_token"))
				}
				fmt.Fprint(os.Stderr, "Admin token: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read admin token: %w", err)
				}
				cfg.Auth.AdminToken = string(b)
			}
			if cmd.Flags().Changed("ttl") {
				cfg.Auth.JWTExpiry = ttl.String()
			}
			return runAdminToken(cmd.Context(), cfg, subject, cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Subject recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime (default from auth.jwt_expiry)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminToken(ctx context.Context, cfg *config.YAMLConfig, subject string, out io.Writer, asJSON bool) error {
	auth := service.NewAdminAuth(cfg.Auth.AdminToken, cfg.Auth.JWTSecret, config.DurationOr(cfg.Auth.JWTExpiry, time.Hour))
	if !auth.Enabled() {
		return fmt.Errorf("admin token is empty")
	}
	token, exp, err := auth.IssueSession(ctx, subject)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	if asJSON {
		return printJSON(out, map[string]interface{}{
			"session_token": token,
			"token_type":    "bearer",
			"expires_at":    exp.Unix(),
		})
	}
	fmt.Fprintln(out, token)
	return nil
}
