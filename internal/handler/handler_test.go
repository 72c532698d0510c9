package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/server/middleware"
	"github.com/quotagate/quotagate/internal/service"
	"github.com/quotagate/quotagate/internal/store"
)

const testAdminToken = "test-admin-token"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	keys    *service.KeyStore
	ledger  *service.UsageLedger
	quota   *service.QuotaEvaluator
	audit   *service.AuditLog
	gateway *GatewayHandler
	router  chi.Router
}

// newTestEnv creates a fresh environment on an in-memory store with the
// admin and gateway routes mounted behind their real auth middleware.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []service.Option{service.WithLogger(logger)}
	keys := service.NewKeyStore(st, service.DefaultKeyDefaults(), opts...)
	ledger := service.NewUsageLedger(st, opts...)
	quota := service.NewQuotaEvaluator(st, opts...)
	auth := service.NewAdminAuth(testAdminToken, "", 0, opts...)
	audit := service.NewAuditLog(st, opts...)

	admin := NewAdminHandler(keys, ledger, quota, auth, audit, logger)
	gateway := NewGatewayHandler(quota, logger)

	r := chi.NewRouter()
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(auth))
		r.Post("/session", admin.CreateSession)
		r.Get("/keys", admin.ListKeys)
		r.Post("/keys", admin.CreateKey)
		r.Get("/keys/{keyID}", admin.GetKey)
		r.Delete("/keys/{keyID}", admin.DisableKey)
		r.Get("/keys/{keyID}/usage", admin.KeyUsage)
		r.Get("/keys/{keyID}/quota", admin.KeyQuota)
		r.Get("/usage/summary", admin.UsageSummary)
		r.Get("/audit", admin.ListAudit)
	})
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(keys, ""))
		r.Post("/consume", gateway.Consume)
		r.Get("/quota", gateway.Quota)
	})

	return &testEnv{store: st, keys: keys, ledger: ledger, quota: quota, audit: audit, gateway: gateway, router: r}
}

// seedKey issues a key directly through the service.
func (e *testEnv) seedKey(t *testing.T, req service.IssueRequest) (string, *model.APIKey) {
	t.Helper()
	secret, key, err := e.keys.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	return secret, key
}

// adminDo executes an admin-authenticated request.
func (e *testEnv) adminDo(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"X-Admin-Token": testAdminToken})
}

// keyDo executes a request authenticated with an API key secret.
func (e *testEnv) keyDo(t *testing.T, secret, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"X-API-Key": secret})
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
