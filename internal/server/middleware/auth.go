package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type    string // "admin" or "api_key"
	Key     *model.APIKey
	Admin   *service.AdminPrincipal
	IsAdmin bool
}

// KeyID returns the API key id, or "" for admin principals.
func (p *Principal) KeyID() string {
	if p == nil || p.Key == nil {
		return ""
	}
	return p.Key.KeyID
}

// unauthorizedMessage is the only body a failed key check ever returns.
const unauthorizedMessage = "Not authorized"

// KeyValidator is the part of service.KeyStore the middleware needs.
type KeyValidator interface {
	Validate(ctx context.Context, secret string) (*model.APIKey, error)
}

// RequireAPIKey authenticates gateway callers. The secret is read from
// header (default X-API-Key) or an Authorization Bearer token. Every
// rejection is a uniform 401; a storage failure is a 503 so a broken store
// never admits anyone.
func RequireAPIKey(keys KeyValidator, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-API-Key"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get(header)
			if secret == "" {
				secret = bearerToken(r)
			}
			if secret == "" {
				writeAuthError(w, http.StatusUnauthorized, unauthorizedMessage)
				return
			}

			key, err := keys.Validate(r.Context(), secret)
			if err != nil {
				writeAuthError(w, http.StatusServiceUnavailable, "Key store unavailable")
				return
			}
			if key == nil {
				writeAuthError(w, http.StatusUnauthorized, unauthorizedMessage)
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{Type: "api_key", Key: key})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthenticator is the part of service.AdminAuth the middleware needs.
type AdminAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (*service.AdminPrincipal, error)
}

// RequireAdmin authenticates operators by X-Admin-Token or Bearer token,
// which may be the static admin token or a session JWT.
func RequireAdmin(auth AdminAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("X-Admin-Token")
			if credential == "" {
				credential = bearerToken(r)
			}
			if credential == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-Admin-Token header or Bearer token.")
				return
			}

			admin, err := auth.Authenticate(r.Context(), credential)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid admin credentials")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Type:    "admin",
				Admin:   admin,
				IsAdmin: true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
