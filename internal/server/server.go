package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quotagate/quotagate/internal/handler"
	"github.com/quotagate/quotagate/internal/openapi"
	"github.com/quotagate/quotagate/internal/server/middleware"
	"github.com/quotagate/quotagate/internal/service"
	"github.com/quotagate/quotagate/internal/store"
)

// proxyPrefix is where the metered pass-through is mounted.
const proxyPrefix = "/proxy"

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	Version         string

	MetricsEnabled bool
	MetricsPath    string

	APIKeyHeader     string
	SessionRateLimit int // per IP per minute, 0 disables
	KeyRateLimit     int // per key per second, 0 disables

	UpstreamURL string // empty disables /proxy
	StripPrefix bool

	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxy bool
	// AdminAllowedIPs limits /api/v1/admin to these CIDRs or addresses.
	// Empty allows any address.
	AdminAllowedIPs []string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             8787,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		MaxBodySize:      1024 * 1024, // 1MB
		Version:          "dev",
		MetricsEnabled:   true,
		MetricsPath:      "/metrics",
		APIKeyHeader:     "X-API-Key",
		SessionRateLimit: 10,
		StripPrefix:      true,
	}
}

// Services bundles the domain services the routes are built on.
type Services struct {
	Store  *store.Store
	Keys   *service.KeyStore
	Ledger *service.UsageLedger
	Quota  *service.QuotaEvaluator
	Admin  *service.AdminAuth
	Audit  *service.AuditLog
}

// Server is the top-level HTTP server for quotagate. It owns the Chi router
// and the store, which it closes on shutdown.
type Server struct {
	cfg        Config
	router     chi.Router
	svc        Services
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRouter() error {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	if s.cfg.MetricsEnabled {
		r.Use(middleware.Metrics)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Admin-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Quota-Daily-Limit", "X-Quota-Daily-Remaining", "X-Quota-Monthly-Limit", "X-Quota-Monthly-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- System endpoints (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	if s.cfg.MetricsEnabled {
		r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}

	doc, err := openapi.Generate(openapi.Options{
		Version:      s.cfg.Version,
		APIKeyHeader: s.cfg.APIKeyHeader,
		Proxy:        s.cfg.UpstreamURL != "",
	})
	if err != nil {
		return fmt.Errorf("generate openapi document: %w", err)
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler(doc).ServeSpec)

	// --- Admin API ---
	admin := handler.NewAdminHandler(s.svc.Keys, s.svc.Ledger, s.svc.Quota, s.svc.Admin, s.svc.Audit, s.logger)
	var allow *middleware.IPAllowlist
	if len(s.cfg.AdminAllowedIPs) > 0 {
		if allow, err = middleware.NewIPAllowlist(s.cfg.AdminAllowedIPs); err != nil {
			return fmt.Errorf("admin allowlist: %w", err)
		}
	}
	r.Route("/api/v1/admin", func(r chi.Router) {
		if allow != nil {
			r.Use(middleware.AllowIPs(allow, s.logger))
		}
		// Session minting is throttled per IP ahead of the credential check.
		session := r.With(middleware.RequireAdmin(s.svc.Admin))
		if s.cfg.SessionRateLimit > 0 {
			session = r.With(middleware.RateLimit(s.cfg.SessionRateLimit), middleware.RequireAdmin(s.svc.Admin))
		}
		session.Post("/session", admin.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.svc.Admin))
			r.Get("/keys", admin.ListKeys)
			r.Post("/keys", admin.CreateKey)
			r.Get("/keys/{keyID}", admin.GetKey)
			r.Delete("/keys/{keyID}", admin.DisableKey)
			r.Get("/keys/{keyID}/usage", admin.KeyUsage)
			r.Get("/keys/{keyID}/quota", admin.KeyQuota)
			r.Get("/usage/summary", admin.UsageSummary)
			r.Get("/audit", admin.ListAudit)
		})
	})

	// --- Gateway API (API key auth) ---
	gateway := handler.NewGatewayHandler(s.svc.Quota, s.logger)
	keyed := func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.svc.Keys, s.cfg.APIKeyHeader))
		if s.cfg.KeyRateLimit > 0 {
			r.Use(middleware.RateLimitByKey(s.cfg.KeyRateLimit))
		}
	}
	r.Route("/v1", func(r chi.Router) {
		keyed(r)
		r.Post("/consume", gateway.Consume)
		r.Get("/quota", gateway.Quota)
	})

	// --- Metered pass-through ---
	if s.cfg.UpstreamURL != "" {
		proxy, err := handler.NewProxyHandler(gateway, s.cfg.UpstreamURL, proxyPrefix, s.cfg.StripPrefix, s.cfg.APIKeyHeader, s.logger)
		if err != nil {
			return err
		}
		r.Group(func(r chi.Router) {
			keyed(r)
			r.Handle(proxyPrefix+"/*", proxy)
		})
		s.logger.Info("proxy enabled", "prefix", proxyPrefix, "upstream", s.cfg.UpstreamURL)
	}

	s.router = r
	return nil
}

// handleHealthz reports liveness plus store reachability. Returns 503 when
// the store cannot be pinged.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status, httpStatus := "ok", http.StatusOK
	storeStatus := "ok"
	if err := s.svc.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check: store ping failed", "error", err)
		status, httpStatus = "degraded", http.StatusServiceUnavailable
		storeStatus = "unreachable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": map[string]string{"store": storeStatus},
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests before closing the store.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		s.svc.Store.Close()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.svc.Store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
