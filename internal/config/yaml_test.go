package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultYAMLConfig(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host = %q, want loopback", cfg.Server.Host)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Quota.DefaultDaily != 1000 || cfg.Quota.DefaultMonthly != 30000 || cfg.Quota.DefaultExpiryDays != 30 {
		t.Errorf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestWriteAndLoadYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotagate.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.APIKeyHeader != "X-API-Key" {
		t.Errorf("api_key_header = %q", cfg.Auth.APIKeyHeader)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics path = %q", cfg.Metrics.Path)
	}
}

func TestLoadYAMLConfigExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("QG_TEST_ADMIN_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "quotagate.yaml")
	content := `
auth:
  admin_token: ${QG_TEST_ADMIN_TOKEN}
store:
  driver: postgres
  dsn: postgres://localhost/quota
quota:
  default_daily: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.AdminToken != "s3cret" {
		t.Errorf("admin_token = %q, want expanded env value", cfg.Auth.AdminToken)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Quota.DefaultDaily != 50 {
		t.Errorf("default_daily = %d", cfg.Quota.DefaultDaily)
	}
	if cfg.Quota.DefaultMonthly != 30000 {
		t.Errorf("default_monthly should keep default, got %d", cfg.Quota.DefaultMonthly)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("port should keep default, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*YAMLConfig)
		wantErr bool
	}{
		{"defaults", func(*YAMLConfig) {}, false},
		{"mysql", func(c *YAMLConfig) { c.Store.Driver = "mysql" }, false},
		{"unknown driver", func(c *YAMLConfig) { c.Store.Driver = "mssql" }, true},
		{"bad port", func(c *YAMLConfig) { c.Server.Port = 70000 }, true},
		{"zero daily", func(c *YAMLConfig) { c.Quota.DefaultDaily = 0 }, true},
		{"bad duration", func(c *YAMLConfig) { c.Auth.JWTExpiry = "soon" }, true},
		{"bad body size", func(c *YAMLConfig) { c.Server.MaxBodySize = "lots" }, true},
		{"bad log format", func(c *YAMLConfig) { c.Logging.Format = "xml" }, true},
		{"expiry past bound", func(c *YAMLConfig) { c.Quota.DefaultExpiryDays = 36501 }, true},
		{"negative expiry", func(c *YAMLConfig) { c.Quota.DefaultExpiryDays = -1 }, true},
		{"allowlist", func(c *YAMLConfig) { c.Server.AdminAllowedIPs = []string{"10.0.0.0/8", "203.0.113.4", "::1"} }, false},
		{"bad allowlist cidr", func(c *YAMLConfig) { c.Server.AdminAllowedIPs = []string{"10.0.0.0/40"} }, true},
		{"bad allowlist host", func(c *YAMLConfig) { c.Server.AdminAllowedIPs = []string{"office"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadYAMLConfigMissingFile(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"512", 512, false},
		{"64KB", 64 << 10, false},
		{"1MB", 1 << 20, false},
		{"2 gb", 2 << 30, false},
		{"10B", 10, false},
		{"-1MB", 0, true},
		{"MB", 0, true},
		{"1.5MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	if got := DurationOr("", time.Minute); got != time.Minute {
		t.Errorf("empty = %v", got)
	}
	if got := DurationOr("90s", time.Minute); got != 90*time.Second {
		t.Errorf("90s = %v", got)
	}
	if got := DurationOr("nope", time.Minute); got != time.Minute {
		t.Errorf("invalid = %v", got)
	}
}
