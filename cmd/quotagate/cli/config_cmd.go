package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quotagate/quotagate/internal/config"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage quotagate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default quotagate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(path, force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&path, "path", "quotagate.yaml", "Where to write the file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

func runConfigInit(path string, force bool, out io.Writer) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintf(out, "Set auth.admin_token (or %s), then run 'quotagate serve'.\n", envName("auth.admin_token"))
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the merged configuration (defaults, file, environment). Secrets are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runConfigShow(cfg, viper.ConfigFileUsed(), cmd.OutOrStdout())
		},
	}

	return cmd
}

func runConfigShow(cfg *config.YAMLConfig, configFile string, out io.Writer) error {
	if configFile != "" {
		fmt.Fprintf(out, "# Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "# Config file: (none found, using defaults)")
	}

	shown := *cfg
	if shown.Auth.AdminToken != "" {
		shown.Auth.AdminToken = redacted
	}
	if shown.Auth.JWTSecret != "" {
		shown.Auth.JWTSecret = redacted
	}
	if shown.Store.DSN != "" {
		shown.Store.DSN = redacted
	}

	b, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = out.Write(b)
	return err
}
