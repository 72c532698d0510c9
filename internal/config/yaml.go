package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level quotagate configuration file.
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Quota    QuotaConfig    `yaml:"quota"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	MaxBodySize     string          `yaml:"max_body_size"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	// TrustProxy takes client addresses from X-Forwarded-For and X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy"`
	// AdminAllowedIPs restricts the admin API to these CIDRs or addresses.
	// Loopback is always allowed. Empty allows everyone.
	AdminAllowedIPs []string `yaml:"admin_allowed_ips"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// RateLimitConfig caps request rates independently of quotas. Zero disables
// the corresponding limiter.
type RateLimitConfig struct {
	// SessionPerMinute limits admin session exchanges per client IP.
	SessionPerMinute int `yaml:"session_per_minute"`
	// KeyPerSecond limits gateway requests per API key.
	KeyPerSecond int `yaml:"key_per_second"`
}

// StoreConfig selects the ledger database.
type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	DataDir      string `yaml:"data_dir"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	QueryTimeout string `yaml:"query_timeout"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	AdminToken   string `yaml:"admin_token"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWTExpiry    string `yaml:"jwt_expiry"`
	APIKeyHeader string `yaml:"api_key_header"`
}

// QuotaConfig holds the defaults applied when a key is issued without
// explicit limits.
type QuotaConfig struct {
	DefaultDaily      int64 `yaml:"default_daily"`
	DefaultMonthly    int64 `yaml:"default_monthly"`
	DefaultExpiryDays int   `yaml:"default_expiry_days"`
}

// UpstreamConfig enables the metered reverse proxy.
type UpstreamConfig struct {
	URL         string `yaml:"url"`
	StripPrefix bool   `yaml:"strip_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing fields keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
// The server binds to loopback unless told otherwise.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			MaxBodySize:     "1MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				SessionPerMinute: 10,
			},
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			MaxOpenConns: 10,
			QueryTimeout: "5s",
		},
		Auth: AuthConfig{
			JWTExpiry:    "1h",
			APIKeyHeader: "X-API-Key",
		},
		Quota: QuotaConfig{
			DefaultDaily:      1000,
			DefaultMonthly:    30000,
			DefaultExpiryDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *YAMLConfig) Validate() error {
	switch c.Store.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Quota.DefaultDaily < 1 || c.Quota.DefaultMonthly < 1 {
		return fmt.Errorf("quota defaults must be positive")
	}
	if c.Quota.DefaultExpiryDays < 0 || c.Quota.DefaultExpiryDays > maxExpiryDays {
		return fmt.Errorf("quota.default_expiry_days: must be between 0 and %d", maxExpiryDays)
	}
	for _, entry := range c.Server.AdminAllowedIPs {
		if !validNetwork(entry) {
			return fmt.Errorf("server.admin_allowed_ips: invalid entry %q", entry)
		}
	}
	if _, err := ParseSize(c.Server.MaxBodySize); err != nil {
		return fmt.Errorf("server.max_body_size: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	for name, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"store.query_timeout":     c.Store.QueryTimeout,
		"auth.jwt_expiry":         c.Auth.JWTExpiry,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// maxExpiryDays matches the bound the key service enforces on issuance.
const maxExpiryDays = 36500

func validNetwork(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

// ParseSize parses a byte size such as "512", "64KB" or "1MB". Units are
// powers of 1024. The empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// DurationOr parses s as a time.Duration, returning def when s is empty.
// Values are checked by Validate, so a parse failure also yields def.
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
