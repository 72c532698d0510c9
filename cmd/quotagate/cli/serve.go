package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/server"
	"github.com/quotagate/quotagate/internal/telemetry"
)

const banner = `
  __ _ _   _  ___ | |_ __ _  __ _  __ _| |_ ___
 / _' | | | |/ _ \| __/ _' |/ _' |/ _' | __/ _ \
| (_| | |_| | (_) | || (_| | (_| | (_| | ||  __/
 \__, |\__,_|\___/ \__\__,_|\__, |\__,_|\__\___|
    |_|                     |___/
`

// keyCollectorInterval is how often the keys gauge is refreshed.
const keyCollectorInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port     int
		host     string
		upstream string
		dev      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quotagate API server",
		Long: `Start the HTTP server that exposes the admin API, the metering API and,
when an upstream is configured, the metering reverse proxy.`,
		Example: `  quotagate serve
  quotagate serve --port 9000 --upstream http://localhost:8080
  QUOTAGATE_AUTH_ADMIN_TOKEN=s3cret quotagate serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("upstream") {
				cfg.Upstream.URL = upstream
			}
			if dev {
				cfg.Logging.Level = "debug"
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8787, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP listen host")
	cmd.Flags().StringVar(&upstream, "upstream", "", "Upstream API base URL for the metering proxy")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	return cmd
}

// serverConfig maps the file configuration onto the HTTP server's Config.
func serverConfig(cfg *config.YAMLConfig) (server.Config, error) {
	maxBody, err := config.ParseSize(cfg.Server.MaxBodySize)
	if err != nil {
		return server.Config{}, fmt.Errorf("server.max_body_size: %w", err)
	}
	return server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ShutdownTimeout:  config.DurationOr(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:      cfg.Server.CORS.Origins,
		MaxBodySize:      maxBody,
		Version:          versionString(),
		MetricsEnabled:   cfg.Metrics.Enabled,
		MetricsPath:      cfg.Metrics.Path,
		APIKeyHeader:     cfg.Auth.APIKeyHeader,
		SessionRateLimit: cfg.Server.RateLimit.SessionPerMinute,
		KeyRateLimit:     cfg.Server.RateLimit.KeyPerSecond,
		UpstreamURL:      cfg.Upstream.URL,
		StripPrefix:      cfg.Upstream.StripPrefix,
		TrustProxy:       cfg.Server.TrustProxy,
		AdminAllowedIPs:  cfg.Server.AdminAllowedIPs,
	}, nil
}

func runServe(ctx context.Context, cfg *config.YAMLConfig) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg.Logging, os.Stderr)

	// 1. Open the ledger store
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	logger.Info("store opened", "driver", st.Driver(), "data_dir", cfg.Store.DataDir)

	// 2. Build services
	svcs := newServices(st, cfg, logger)
	if !svcs.admin.Enabled() {
		logger.Warn("no admin token configured; the admin API is disabled. Set auth.admin_token or " + envName("auth.admin_token"))
	}

	// 3. Build and start HTTP server
	srvCfg, err := serverConfig(cfg)
	if err != nil {
		st.Close()
		return err
	}
	srv, err := server.New(srvCfg, server.Services{
		Store:  st,
		Keys:   svcs.keys,
		Ledger: svcs.ledger,
		Quota:  svcs.quota,
		Admin:  svcs.admin,
		Audit:  svcs.audit,
	}, logger)
	if err != nil {
		st.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Metrics.Enabled {
		telemetry.StartKeyCollector(ctx, st, keyCollectorInterval, logger)
	}

	base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ quotagate %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ Store:      %s\n", st.Driver())
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	if cfg.Metrics.Enabled {
		fmt.Printf("→ Metrics:    %s%s\n", base, cfg.Metrics.Path)
	}
	if cfg.Upstream.URL != "" {
		fmt.Printf("→ Proxy:      %s/proxy/* -> %s\n", base, cfg.Upstream.URL)
	}
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
