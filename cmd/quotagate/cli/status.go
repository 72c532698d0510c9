package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		url  string
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the quotagate server is healthy",
		Long: `Poll the server's /healthz endpoint. With --wait, keep polling until the
server reports healthy or the wait expires; useful after a redeploy.`,
		Example: `  quotagate status
  quotagate status --url http://10.0.0.5:8787 --wait 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				url = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
			}
			return runStatus(cmd.Context(), url, wait, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Server base URL (default from config)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep polling until healthy for up to this long")

	return cmd
}

// pollInterval is the delay between health checks when waiting.
const pollInterval = 500 * time.Millisecond

func runStatus(ctx context.Context, baseURL string, wait time.Duration, out io.Writer) error {
	healthURL := baseURL + "/healthz"
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(wait)

	for {
		status, code, err := checkHealth(ctx, client, healthURL)
		if err == nil && code == http.StatusOK {
			fmt.Fprintf(out, "Server is healthy\n")
			fmt.Fprintf(out, "  Health:  %s (%d %s)\n", healthURL, code, status)
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("server not responding at %s: %w", healthURL, err)
			}
			return fmt.Errorf("server unhealthy at %s: %d %s", healthURL, code, status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func checkHealth(ctx context.Context, client *http.Client, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	return body.Status, resp.StatusCode, nil
}
