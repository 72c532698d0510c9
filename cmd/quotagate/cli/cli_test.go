package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
	"github.com/quotagate/quotagate/internal/store"
)

func testServices(t *testing.T) *services {
	t.Helper()
	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := config.DefaultYAMLConfig()
	return newServices(st, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("QUOTAGATE_SERVER_PORT", "9999")
	t.Setenv("QUOTAGATE_AUTH_ADMIN_TOKEN", "from-env")
	t.Setenv("QUOTAGATE_QUOTA_DEFAULT_DAILY", "42")
	t.Setenv("QUOTAGATE_METRICS_ENABLED", "false")
	t.Setenv("QUOTAGATE_SERVER_RATE_LIMIT_KEY_PER_SECOND", "7")
	t.Setenv("QUOTAGATE_SERVER_TRUST_PROXY", "true")
	t.Setenv("QUOTAGATE_SERVER_ADMIN_ALLOWED_IPS", "10.0.0.0/8 192.168.1.5")

	cfg := config.DefaultYAMLConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Auth.AdminToken != "from-env" {
		t.Errorf("admin token = %q", cfg.Auth.AdminToken)
	}
	if cfg.Quota.DefaultDaily != 42 {
		t.Errorf("default daily = %d", cfg.Quota.DefaultDaily)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	if cfg.Server.RateLimit.KeyPerSecond != 7 {
		t.Errorf("key_per_second = %d", cfg.Server.RateLimit.KeyPerSecond)
	}
	if !cfg.Server.TrustProxy {
		t.Error("trust_proxy should be enabled")
	}
	if got := cfg.Server.AdminAllowedIPs; len(got) != 2 || got[1] != "192.168.1.5" {
		t.Errorf("admin_allowed_ips = %v", got)
	}
	// Unset variables keep their defaults.
	if cfg.Server.Host != "127.0.0.1" || cfg.Quota.DefaultMonthly != 30000 {
		t.Errorf("defaults overwritten: %+v", cfg.Server)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "quotagate.yaml")
	os.WriteFile(path, []byte("server:\n  port: 9100\nquota:\n  default_daily: 5\n"), 0644)
	t.Setenv("QUOTAGATE_SERVER_PORT", "9200")

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("env should win over file: port = %d", cfg.Server.Port)
	}
	if cfg.Quota.DefaultDaily != 5 {
		t.Errorf("default_daily = %d, want 5", cfg.Quota.DefaultDaily)
	}
	if cfg.Store.DataDir == "" {
		t.Error("sqlite data dir should default when unset")
	}
}

func TestKeyCommands(t *testing.T) {
	svcs := testServices(t)
	ctx := context.Background()
	never := 0

	var out bytes.Buffer
	opts := keyCreateOptions{name: "cli", daily: 3, monthly: 9, expiresInDays: &never, metadata: `{"team":"search"}`}
	if err := runKeyCreate(ctx, svcs, opts, &out, true); err != nil {
		t.Fatalf("runKeyCreate: %v", err)
	}
	var created struct {
		Secret    string `json:"secret"`
		KeyID     string `json:"key_id"`
		ExpiresAt *int64 `json:"expires_at"`
	}
	if err := json.Unmarshal(out.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v; output = %s", err, out.String())
	}
	if !strings.HasPrefix(created.Secret, service.SecretPrefix) || created.ExpiresAt != nil {
		t.Errorf("created = %+v", created)
	}

	out.Reset()
	if err := runKeyList(ctx, svcs, false, &out, false); err != nil {
		t.Fatalf("runKeyList: %v", err)
	}
	if !strings.Contains(out.String(), created.KeyID) || !strings.Contains(out.String(), "never") {
		t.Errorf("list output = %s", out.String())
	}

	out.Reset()
	if err := runKeyShow(ctx, svcs, created.KeyID, &out, false); err != nil {
		t.Fatalf("runKeyShow: %v", err)
	}
	if !strings.Contains(out.String(), "0 / 3 (3 remaining)") {
		t.Errorf("show output = %s", out.String())
	}

	out.Reset()
	if err := runKeyDisable(ctx, svcs, created.KeyID, &out); err != nil {
		t.Fatalf("runKeyDisable: %v", err)
	}
	out.Reset()
	runKeyDisable(ctx, svcs, created.KeyID, &out)
	if !strings.Contains(out.String(), "already disabled") {
		t.Errorf("second disable output = %s", out.String())
	}

	if err := runKeyDisable(ctx, svcs, "ffffffffffffffff", &out); err == nil {
		t.Error("disabling an unknown key should fail")
	}

	page, err := svcs.audit.List(ctx, model.AuditFilter{})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("audit entries = %d, want create and two disables", page.Total)
	}
	if last := page.Entries[2]; last.Action != model.AuditCreateKey || last.Method != "CLI" || last.KeyAffected != created.KeyID {
		t.Errorf("create audit entry = %+v", last)
	}
}

func TestKeyCreateOptionsValidation(t *testing.T) {
	neg := -1
	if _, err := (keyCreateOptions{expiresInDays: &neg}).issueRequest(); err == nil {
		t.Error("negative expiry should fail")
	}
	huge := 200000
	if _, err := (keyCreateOptions{expiresInDays: &huge}).issueRequest(); err == nil {
		t.Error("expiry beyond the lifetime bound should fail")
	}
	if _, err := (keyCreateOptions{metadata: "{nope"}).issueRequest(); err == nil {
		t.Error("invalid metadata should fail")
	}
	req, err := (keyCreateOptions{name: "x"}).issueRequest()
	if err != nil || req.ExpiresIn != nil {
		t.Errorf("unset expiry should use defaults: %+v, %v", req, err)
	}
}

func TestQuotaConsumeCommand(t *testing.T) {
	svcs := testServices(t)
	ctx := context.Background()
	_, key, err := svcs.keys.Issue(ctx, service.IssueRequest{QuotaDaily: 2, QuotaMonthly: 10})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var out bytes.Buffer
	req := service.ConsumeRequest{KeyID: key.KeyID, Endpoint: "/cli", Cost: 2}
	if err := runQuotaConsume(ctx, svcs, req, &out, false); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !strings.Contains(out.String(), "Admitted") {
		t.Errorf("output = %s", out.String())
	}

	out.Reset()
	err = runQuotaConsume(ctx, svcs, req, &out, false)
	if !errors.Is(err, errQuotaExceeded) {
		t.Fatalf("second consume error = %v, want errQuotaExceeded", err)
	}
	if !strings.Contains(out.String(), "daily quota would be exceeded") {
		t.Errorf("output = %s", out.String())
	}

	out.Reset()
	if err := runQuotaCheck(ctx, svcs, key.KeyID, &out, false); err != nil {
		t.Fatalf("runQuotaCheck: %v", err)
	}
	if !strings.Contains(out.String(), "within quota: false") {
		t.Errorf("check output = %s", out.String())
	}

	out.Reset()
	if err := runUsageStats(ctx, svcs, key.KeyID, "all_time", &out, false); err != nil {
		t.Fatalf("runUsageStats: %v", err)
	}
	if !strings.Contains(out.String(), "/cli") {
		t.Errorf("stats output = %s", out.String())
	}
}

func TestAdminTokenCommand(t *testing.T) {
	cfg := config.DefaultYAMLConfig()
	cfg.Auth.AdminToken = "cli-admin"

	var out bytes.Buffer
	if err := runAdminToken(context.Background(), cfg, "ops", &out, false); err != nil {
		t.Fatalf("runAdminToken: %v", err)
	}
	token := strings.TrimSpace(out.String())

	auth := service.NewAdminAuth("cli-admin", "", time.Hour)
	p, err := auth.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if p.Subject != "ops" {
		t.Errorf("subject = %q", p.Subject)
	}

	cfg.Auth.AdminToken = ""
	if err := runAdminToken(context.Background(), cfg, "ops", &out, false); err == nil {
		t.Error("expected error without an admin token")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotagate.yaml")
	var out bytes.Buffer
	if err := runConfigInit(path, false, &out); err != nil {
		t.Fatalf("runConfigInit: %v", err)
	}
	if err := runConfigInit(path, false, &out); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := config.LoadYAMLConfig(path); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}

	cfg := config.DefaultYAMLConfig()
	cfg.Auth.AdminToken = "super-secret"
	out.Reset()
	if err := runConfigShow(cfg, path, &out); err != nil {
		t.Fatalf("runConfigShow: %v", err)
	}
	if strings.Contains(out.String(), "super-secret") || !strings.Contains(out.String(), redacted) {
		t.Errorf("admin token not redacted: %s", out.String())
	}
}

func TestStatusCommand(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer healthy.Close()

	var out bytes.Buffer
	if err := runStatus(context.Background(), healthy.URL, 0, &out); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !strings.Contains(out.String(), "healthy") {
		t.Errorf("output = %s", out.String())
	}

	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer degraded.Close()
	if err := runStatus(context.Background(), degraded.URL, 0, &out); err == nil {
		t.Error("expected error for 503")
	}
}

func TestOpenAPICommand(t *testing.T) {
	cfg := config.DefaultYAMLConfig()
	cfg.Upstream.URL = "http://upstream.internal"

	var out bytes.Buffer
	if err := runOpenAPI(cfg, "", &out); err != nil {
		t.Fatalf("runOpenAPI: %v", err)
	}
	var doc struct {
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]interface{} `json:"paths"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc.Paths["/proxy/{path}"]; !ok {
		t.Error("proxy paths missing with an upstream configured")
	}
	if len(doc.Servers) == 0 || doc.Servers[0].URL != "http://127.0.0.1:8787" {
		t.Errorf("servers = %+v", doc.Servers)
	}
}

func TestServerConfigMapping(t *testing.T) {
	cfg := config.DefaultYAMLConfig()
	cfg.Server.MaxBodySize = "64KB"
	cfg.Auth.APIKeyHeader = "X-Gate-Key"
	cfg.Server.AdminAllowedIPs = []string{"10.0.0.0/8"}

	sc, err := serverConfig(cfg)
	if err != nil {
		t.Fatalf("serverConfig: %v", err)
	}
	if sc.MaxBodySize != 64<<10 || sc.APIKeyHeader != "X-Gate-Key" || sc.ShutdownTimeout != 30*time.Second {
		t.Errorf("server config = %+v", sc)
	}
	if sc.TrustProxy || len(sc.AdminAllowedIPs) != 1 {
		t.Errorf("proxy and allowlist mapping = %v %v", sc.TrustProxy, sc.AdminAllowedIPs)
	}
}
