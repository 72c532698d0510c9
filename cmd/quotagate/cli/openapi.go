package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 document for the quotagate HTTP API. Proxy routes
are included when an upstream is configured.`,
		Example: `  quotagate openapi
  quotagate openapi --base-url https://gate.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputFile == "" {
				return runOpenAPI(cfg, baseURL, cmd.OutOrStdout())
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("create %s: %w", outputFile, err)
			}
			defer f.Close()
			if err := runOpenAPI(cfg, baseURL, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to advertise (default http://<host>:<port>)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(cfg *config.YAMLConfig, baseURL string, out io.Writer) error {
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	doc, err := openapi.Generate(openapi.Options{
		BaseURL:      baseURL,
		Version:      versionString(),
		APIKeyHeader: cfg.Auth.APIKeyHeader,
		Proxy:        cfg.Upstream.URL != "",
	})
	if err != nil {
		return fmt.Errorf("generate openapi: %w", err)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
