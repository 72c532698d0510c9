package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
	"github.com/quotagate/quotagate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// defaultDataDir returns ~/.quotagate.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".quotagate")
}

// loadConfig builds the effective configuration: defaults, then the config
// file viper located (with ${VAR} expansion), then QUOTAGATE_* environment
// variables, then --data-dir.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg)

	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if (cfg.Store.Driver == "" || cfg.Store.Driver == "sqlite") && cfg.Store.DSN == "" && cfg.Store.DataDir == "" {
		cfg.Store.DataDir = defaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(envName(key))
	return ok
}

// applyEnvOverrides copies every QUOTAGATE_* variable that is present onto
// cfg. Only variables that exist override; file values are kept otherwise.
func applyEnvOverrides(cfg *config.YAMLConfig) {
	configureEnv()

	strs := map[string]*string{
		"server.host":             &cfg.Server.Host,
		"server.max_body_size":    &cfg.Server.MaxBodySize,
		"server.shutdown_timeout": &cfg.Server.ShutdownTimeout,
		"store.driver":            &cfg.Store.Driver,
		"store.dsn":               &cfg.Store.DSN,
		"store.data_dir":          &cfg.Store.DataDir,
		"store.query_timeout":     &cfg.Store.QueryTimeout,
		"auth.admin_token":        &cfg.Auth.AdminToken,
		"auth.jwt_secret":         &cfg.Auth.JWTSecret,
		"auth.jwt_expiry":         &cfg.Auth.JWTExpiry,
		"auth.api_key_header":     &cfg.Auth.APIKeyHeader,
		"upstream.url":            &cfg.Upstream.URL,
		"metrics.path":            &cfg.Metrics.Path,
		"logging.level":           &cfg.Logging.Level,
		"logging.format":          &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if envSet(key) {
			*dst = viper.GetString(key)
		}
	}

	ints := map[string]*int{
		"server.port":                          &cfg.Server.Port,
		"server.rate_limit.session_per_minute": &cfg.Server.RateLimit.SessionPerMinute,
		"server.rate_limit.key_per_second":     &cfg.Server.RateLimit.KeyPerSecond,
		"store.max_open_conns":                 &cfg.Store.MaxOpenConns,
		"quota.default_expiry_days":            &cfg.Quota.DefaultExpiryDays,
	}
	for key, dst := range ints {
		if envSet(key) {
			*dst = viper.GetInt(key)
		}
	}

	int64s := map[string]*int64{
		"quota.default_daily":   &cfg.Quota.DefaultDaily,
		"quota.default_monthly": &cfg.Quota.DefaultMonthly,
	}
	for key, dst := range int64s {
		if envSet(key) {
			*dst = viper.GetInt64(key)
		}
	}

	bools := map[string]*bool{
		"metrics.enabled":       &cfg.Metrics.Enabled,
		"upstream.strip_prefix": &cfg.Upstream.StripPrefix,
		"server.trust_proxy":    &cfg.Server.TrustProxy,
	}
	for key, dst := range bools {
		if envSet(key) {
			*dst = viper.GetBool(key)
		}
	}

	if envSet("server.cors.origins") {
		cfg.Server.CORS.Origins = viper.GetStringSlice("server.cors.origins")
	}
	if envSet("server.admin_allowed_ips") {
		cfg.Server.AdminAllowedIPs = viper.GetStringSlice("server.admin_allowed_ips")
	}
}

// openStore opens the configured ledger store.
func openStore(cfg *config.YAMLConfig) (*store.Store, error) {
	st, err := store.Open(store.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		DataDir:      cfg.Store.DataDir,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		QueryTimeout: config.DurationOr(cfg.Store.QueryTimeout, store.DefaultQueryTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// services bundles the domain services a command needs.
type services struct {
	store  *store.Store
	keys   *service.KeyStore
	ledger *service.UsageLedger
	quota  *service.QuotaEvaluator
	admin  *service.AdminAuth
	audit  *service.AuditLog
}

func newServices(st *store.Store, cfg *config.YAMLConfig, logger *slog.Logger) *services {
	opts := []service.Option{service.WithLogger(logger)}
	ttl := config.DurationOr(cfg.Auth.JWTExpiry, time.Hour)
	return &services{
		store:  st,
		keys:   service.NewKeyStore(st, keyDefaults(cfg), opts...),
		ledger: service.NewUsageLedger(st, opts...),
		quota:  service.NewQuotaEvaluator(st, opts...),
		admin:  service.NewAdminAuth(cfg.Auth.AdminToken, cfg.Auth.JWTSecret, ttl, opts...),
		audit:  service.NewAuditLog(st, opts...),
	}
}

// auditCLI records a key change made from the command line. The change has
// already been applied, so a failed write is reported as a warning.
func (s *services) auditCLI(ctx context.Context, command, action, keyID string, details interface{}) {
	e := model.AuditEntry{Method: "CLI", Path: command, Action: action, KeyAffected: keyID}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			e.Details = raw
		}
	}
	if err := s.audit.Record(ctx, e); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s not audited: %v\n", action, err)
	}
}

// openServices loads the config and opens the store for one-shot commands.
// Logging goes to stderr at warn level so command output stays clean.
func openServices() (*services, *config.YAMLConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, os.Stderr)
	return newServices(st, cfg, logger), cfg, nil
}

func keyDefaults(cfg *config.YAMLConfig) service.KeyDefaults {
	return service.KeyDefaults{
		QuotaDaily:   cfg.Quota.DefaultDaily,
		QuotaMonthly: cfg.Quota.DefaultMonthly,
		Expiry:       time.Duration(cfg.Quota.DefaultExpiryDays) * 24 * time.Hour,
	}
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnix(ts *int64) string {
	if ts == nil {
		return "never"
	}
	return time.Unix(*ts, 0).UTC().Format(time.RFC3339)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
