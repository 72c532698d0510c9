package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "QUOTAGATE"

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve, mcp and openapi
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotagate",
		Short: "API key issuance and quota metering for HTTP APIs",
		Long: `quotagate issues API keys, records every metered call in an append-only
ledger, and enforces trailing daily and monthly quotas with an atomic
check-and-record step.

Run it as a sidecar that your API asks before serving a call, or put it in
front of your API as a metering reverse proxy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./quotagate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.quotagate)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newUsageCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("quotagate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.quotagate")
	}

	configureEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}

// configureEnv maps nested keys to QUOTAGATE_ variables, e.g.
// auth.admin_token -> QUOTAGATE_AUTH_ADMIN_TOKEN.
func configureEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
