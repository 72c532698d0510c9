package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/server/middleware"
	"github.com/quotagate/quotagate/internal/service"
)

// GatewayHandler serves the API-key authenticated metering endpoints. Every
// route runs behind middleware.RequireAPIKey.
type GatewayHandler struct {
	quota  *service.QuotaEvaluator
	logger *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(quota *service.QuotaEvaluator, logger *slog.Logger) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{quota: quota, logger: logger}
}

type consumeRequest struct {
	Endpoint string `json:"endpoint"`
	Cost     int64  `json:"cost"`
}

// Consume spends cost units for the calling key. 200 when admitted, 429
// when a window would be exceeded (nothing is recorded).
func (h *GatewayHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if req.Cost < 0 {
		writeError(w, http.StatusBadRequest, service.ErrInvalidCost.Error())
		return
	}

	adm, ok := h.admit(w, r, req.Endpoint, req.Cost)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, adm)
}

// Quota reports the calling key's current usage.
func (h *GatewayHandler) Quota(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	within, detail, err := h.quota.Peek(r.Context(), p.KeyID())
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			writeError(w, http.StatusUnauthorized, "Not authorized")
			return
		}
		status, msg := classifyServiceError(err, "Failed to check quota")
		writeError(w, status, msg)
		return
	}
	setQuotaHeaders(w, *detail)
	writeJSON(w, http.StatusOK, quotaResponse{WithinQuota: within, QuotaDetail: *detail})
}

// admit runs TryConsume for the request's principal and writes the error
// response itself when the call is not admitted. It reports whether the
// caller may proceed.
func (h *GatewayHandler) admit(w http.ResponseWriter, r *http.Request, endpoint string, cost int64) (*model.Admission, bool) {
	p := middleware.GetPrincipal(r.Context())
	adm, err := h.quota.TryConsume(r.Context(), service.ConsumeRequest{
		KeyID:     p.KeyID(),
		Endpoint:  endpoint,
		Cost:      cost,
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		// The key vanished after validation.
		if errors.Is(err, service.ErrKeyNotFound) {
			writeError(w, http.StatusUnauthorized, "Not authorized")
		} else {
			status, msg := classifyServiceError(err, "Failed to record usage")
			writeError(w, status, msg)
		}
		return nil, false
	}
	// The key was turned off or expired after validation.
	if adm.Refused != "" {
		writeError(w, http.StatusUnauthorized, "Not authorized")
		return adm, false
	}

	setQuotaHeaders(w, adm.Detail)
	if !adm.Accepted {
		writeError(w, http.StatusTooManyRequests, "Quota exceeded", map[string]interface{}{
			"exceeded": adm.Exceeded,
			"detail":   adm.Detail,
		})
		return adm, false
	}
	return adm, true
}
