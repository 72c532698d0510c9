package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "quotagate"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminDisabled      = errors.New("admin api disabled: no admin token configured")
)

// AdminPrincipal identifies an authenticated operator.
type AdminPrincipal struct {
	Subject string
	// Method is "token" for the static admin token or "session" for a JWT.
	Method string
	// CredentialHash is a truncated digest of the presented credential.
	CredentialHash string
}

func credentialHash(credential string) string {
	return HashSecret(credential)[:16]
}

// AdminAuth guards the admin API with a static token and short-lived HS256
// session tokens minted in exchange for it.
type AdminAuth struct {
	token     []byte
	jwtSecret []byte
	ttl       time.Duration
	options
}

// NewAdminAuth creates an AdminAuth. An empty adminToken disables admin
// access entirely. When jwtSecret is empty the signing key is derived from
// the admin token so sessions survive restarts and rotate with the token.
func NewAdminAuth(adminToken, jwtSecret string, ttl time.Duration, opts ...Option) *AdminAuth {
	a := &AdminAuth{token: []byte(adminToken), ttl: ttl, options: buildOptions(opts)}
	if a.ttl <= 0 {
		a.ttl = time.Hour
	}
	switch {
	case jwtSecret != "":
		a.jwtSecret = []byte(jwtSecret)
	case adminToken != "":
		sum := sha256.Sum256([]byte("quotagate-session:" + adminToken))
		a.jwtSecret = sum[:]
	}
	return a
}

// Enabled reports whether an admin token is configured.
func (a *AdminAuth) Enabled() bool {
	return len(a.token) > 0
}

// CheckToken compares a presented token with the admin token in constant
// time.
func (a *AdminAuth) CheckToken(presented string) bool {
	if !a.Enabled() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.token) == 1
}

// Authenticate accepts either the static admin token or a session JWT.
func (a *AdminAuth) Authenticate(ctx context.Context, credential string) (*AdminPrincipal, error) {
	if !a.Enabled() {
		return nil, ErrAdminDisabled
	}
	if a.CheckToken(credential) {
		return &AdminPrincipal{Subject: "admin", Method: "token", CredentialHash: credentialHash(credential)}, nil
	}
	return a.ValidateSession(ctx, credential)
}

// IssueSession mints a session token for subject valid for the configured
// TTL.
func (a *AdminAuth) IssueSession(ctx context.Context, subject string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrAdminDisabled
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateSession verifies a session token.
func (a *AdminAuth) ValidateSession(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	if !a.Enabled() {
		return nil, ErrAdminDisabled
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &AdminPrincipal{Subject: claims.Subject, Method: "session", CredentialHash: credentialHash(tokenStr)}, nil
}
