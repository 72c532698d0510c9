package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdminAuthStaticToken(t *testing.T) {
	a := NewAdminAuth("admin-secret", "", time.Hour)
	ctx := context.Background()

	p, err := a.Authenticate(ctx, "admin-secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != "token" {
		t.Errorf("method = %q", p.Method)
	}
	if p.CredentialHash != HashSecret("admin-secret")[:16] {
		t.Errorf("credential hash = %q", p.CredentialHash)
	}
	if _, err := a.Authenticate(ctx, "admin-secreT"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong token: got %v", err)
	}
}

func TestAdminAuthDisabled(t *testing.T) {
	a := NewAdminAuth("", "jwt-secret", time.Hour)
	if a.Enabled() {
		t.Fatal("empty admin token should disable admin auth")
	}
	if a.CheckToken("") {
		t.Error("empty token must not match when disabled")
	}
	if _, err := a.Authenticate(context.Background(), ""); !errors.Is(err, ErrAdminDisabled) {
		t.Errorf("got %v", err)
	}
	if _, _, err := a.IssueSession(context.Background(), "ops"); !errors.Is(err, ErrAdminDisabled) {
		t.Errorf("IssueSession: got %v", err)
	}
}

func TestAdminSessionRoundTrip(t *testing.T) {
	clock := newTestClock()
	a := NewAdminAuth("admin-secret", "", 15*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	tok, exp, err := a.IssueSession(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if !exp.Equal(testEpoch.Add(15 * time.Minute)) {
		t.Errorf("expiry = %v", exp)
	}

	p, err := a.Authenticate(ctx, tok)
	if err != nil {
		t.Fatalf("Authenticate(session): %v", err)
	}
	if p.Subject != "ops@example.com" || p.Method != "session" {
		t.Errorf("principal = %+v", p)
	}

	clock.Advance(16 * time.Minute)
	if _, err := a.ValidateSession(ctx, tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expired session: got %v", err)
	}
}

func TestAdminSessionRotatesWithToken(t *testing.T) {
	ctx := context.Background()
	a := NewAdminAuth("token-one", "", time.Hour)
	tok, _, err := a.IssueSession(ctx, "ops")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	same := NewAdminAuth("token-one", "", time.Hour)
	if _, err := same.ValidateSession(ctx, tok); err != nil {
		t.Errorf("session should validate across instances with the same token: %v", err)
	}
	rotated := NewAdminAuth("token-two", "", time.Hour)
	if _, err := rotated.ValidateSession(ctx, tok); err == nil {
		t.Error("session should not survive admin token rotation")
	}
	explicit := NewAdminAuth("token-two", "shared-jwt", time.Hour)
	if _, err := explicit.ValidateSession(ctx, "garbage.token.here"); err == nil {
		t.Error("garbage token should fail")
	}
}
