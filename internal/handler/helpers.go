package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryBool extracts a boolean query parameter. Returns false if the parameter
// is missing or not "true"/"1".
func queryBool(r *http.Request, key string) bool {
	val := r.URL.Query().Get(key)
	return val == "true" || val == "1"
}

// queryInt parses a non-negative integer query parameter. A missing
// parameter is 0.
func queryInt(r *http.Request, key string) (int, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// queryWindow parses the "window" query parameter, defaulting to all_time.
func queryWindow(r *http.Request) (model.Window, error) {
	return model.ParseWindow(queryString(r, "window"))
}

// classifyServiceError maps service errors to an HTTP status and a message
// safe to return. Storage failures never leak driver text.
func classifyServiceError(err error, fallbackMsg string) (int, string) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		return http.StatusNotFound, "API key not found"
	case errors.Is(err, service.ErrInvalidCost), errors.Is(err, service.ErrInvalidQuota),
		errors.Is(err, service.ErrInvalidExpiry):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrKeyDisabled), errors.Is(err, service.ErrKeyExpired):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrCollisionExhausted):
		return http.StatusServiceUnavailable, fallbackMsg + ": please retry"
	case service.IsStorageError(err):
		return http.StatusServiceUnavailable, fallbackMsg + ": store unavailable"
	default:
		return http.StatusInternalServerError, fallbackMsg
	}
}

// setQuotaHeaders reports remaining budget on gateway responses.
func setQuotaHeaders(w http.ResponseWriter, d model.QuotaDetail) {
	h := w.Header()
	h.Set("X-Quota-Daily-Limit", strconv.FormatInt(d.Daily.Quota, 10))
	h.Set("X-Quota-Daily-Remaining", strconv.FormatInt(d.Daily.Remaining, 10))
	h.Set("X-Quota-Monthly-Limit", strconv.FormatInt(d.Monthly.Quota, 10))
	h.Set("X-Quota-Monthly-Remaining", strconv.FormatInt(d.Monthly.Remaining, 10))
}
