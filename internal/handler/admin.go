package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/server/middleware"
	"github.com/quotagate/quotagate/internal/service"
)

// AdminHandler serves the operator API under /api/v1/admin.
type AdminHandler struct {
	keys   *service.KeyStore
	ledger *service.UsageLedger
	quota  *service.QuotaEvaluator
	auth   *service.AdminAuth
	audit  *service.AuditLog
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. A nil audit skips audit records.
func NewAdminHandler(keys *service.KeyStore, ledger *service.UsageLedger, quota *service.QuotaEvaluator, auth *service.AdminAuth, audit *service.AuditLog, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{keys: keys, ledger: ledger, quota: quota, auth: auth, audit: audit, logger: logger}
}

// recordAudit persists an admin action. The action has already happened, so
// a failed write is only logged.
func (h *AdminHandler) recordAudit(r *http.Request, action, keyID string, details interface{}) {
	if h.audit == nil {
		return
	}
	e := model.AuditEntry{
		IP:          middleware.ClientIP(r),
		Method:      r.Method,
		Path:        r.URL.Path,
		Action:      action,
		KeyAffected: keyID,
	}
	if p := middleware.GetPrincipal(r.Context()); p != nil && p.Admin != nil {
		e.CredentialHash = p.Admin.CredentialHash
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			h.logger.Warn("audit details not encodable", "action", action, "error", err)
		} else {
			e.Details = raw
		}
	}
	if err := h.audit.Record(context.WithoutCancel(r.Context()), e); err != nil {
		h.logger.Error("admin action not audited", "action", action, "key_id", keyID, "error", err)
	}
}

// --- Session ---

type sessionRequest struct {
	Subject string `json:"subject"`
}

type sessionResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateSession exchanges an authenticated admin credential for a session
// JWT. It runs behind RequireAdmin.
func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.Subject == "" {
		req.Subject = "admin"
		if p := middleware.GetPrincipal(r.Context()); p != nil && p.Admin != nil {
			req.Subject = p.Admin.Subject
		}
	}

	token, exp, err := h.auth.IssueSession(r.Context(), req.Subject)
	if err != nil {
		h.logger.Error("session issue failed", "subject", req.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue session")
		return
	}
	h.recordAudit(r, model.AuditCreateSession, "", map[string]interface{}{
		"subject":    req.Subject,
		"expires_at": exp.Unix(),
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(time.Until(exp).Seconds()),
		ExpiresAt: exp.Unix(),
	})
}

// --- Keys ---

type issueKeyRequest struct {
	Name          string          `json:"name"`
	QuotaDaily    int64           `json:"quota_daily"`
	QuotaMonthly  int64           `json:"quota_monthly"`
	ExpiresInDays *int            `json:"expires_in_days"`
	Metadata      json.RawMessage `json:"metadata"`
}

type issueKeyResponse struct {
	Secret string `json:"secret"`
	*model.APIKey
}

// CreateKey issues a key. The raw secret appears in this response only.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.QuotaDaily < 0 || req.QuotaMonthly < 0 {
		writeError(w, http.StatusBadRequest, "quota_daily and quota_monthly must be positive")
		return
	}

	issue := service.IssueRequest{
		Name:         req.Name,
		QuotaDaily:   req.QuotaDaily,
		QuotaMonthly: req.QuotaMonthly,
	}
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays < 0 || *req.ExpiresInDays > service.MaxExpiryDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("expires_in_days must be between 0 and %d", service.MaxExpiryDays))
			return
		}
		d := time.Duration(*req.ExpiresInDays) * 24 * time.Hour
		issue.ExpiresIn = &d
	}
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		issue.Metadata = req.Metadata
	}

	secret, key, err := h.keys.Issue(r.Context(), issue)
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to issue API key")
		writeError(w, status, msg)
		return
	}
	h.recordAudit(r, model.AuditCreateKey, key.KeyID, map[string]interface{}{
		"name":          key.Name,
		"quota_daily":   key.QuotaDaily,
		"quota_monthly": key.QuotaMonthly,
		"expires_at":    key.ExpiresAt,
	})
	writeJSON(w, http.StatusCreated, issueKeyResponse{Secret: secret, APIKey: key})
}

// ListKeys returns keys newest first, ties broken by key_id.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	keys, err := h.keys.List(r.Context(), queryBool(r, "enabled_only"))
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to list API keys")
		writeError(w, status, msg)
		return
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].CreatedAt != keys[j].CreatedAt {
			return keys[i].CreatedAt > keys[j].CreatedAt
		}
		return keys[i].KeyID < keys[j].KeyID
	})

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count:  len(keys),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// GetKey returns one key by key_id.
func (h *AdminHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to get API key")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// DisableKey turns a key off. It is idempotent: repeating it returns 200
// with "disabled": false. Only an unknown key_id is a 404.
func (h *AdminHandler) DisableKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if _, err := h.keys.Get(r.Context(), keyID); err != nil {
		status, msg := classifyServiceError(err, "Failed to disable API key")
		writeError(w, status, msg)
		return
	}
	changed, err := h.keys.Disable(r.Context(), keyID)
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to disable API key")
		writeError(w, status, msg)
		return
	}
	h.recordAudit(r, model.AuditDisableKey, keyID, map[string]interface{}{"changed": changed})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key_id":   keyID,
		"disabled": changed,
	})
}

// --- Usage and quota ---

// KeyUsage returns windowed statistics for one key.
func (h *AdminHandler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	window, err := queryWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.ledger.Stats(r.Context(), chi.URLParam(r, "keyID"), window)
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to compute usage")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type quotaResponse struct {
	WithinQuota bool `json:"within_quota"`
	model.QuotaDetail
}

// KeyQuota reports current usage against a key's quotas.
func (h *AdminHandler) KeyQuota(w http.ResponseWriter, r *http.Request) {
	within, detail, err := h.quota.Peek(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to check quota")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{WithinQuota: within, QuotaDetail: *detail})
}

// UsageSummary returns ledger-wide totals.
func (h *AdminHandler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	window, err := queryWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.ledger.Summary(r.Context(), window)
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to summarize usage")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Audit ---

// ListAudit returns the admin audit log, newest first.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	f := model.AuditFilter{Action: queryString(r, "action")}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, model.AuditPage{Entries: []model.AuditEntry{}})
		return
	}
	page, err := h.audit.List(r.Context(), f)
	if err != nil {
		status, msg := classifyServiceError(err, "Failed to list audit log")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
