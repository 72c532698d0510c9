package model

import (
	"encoding/json"
	"testing"
)

func TestAPIKeySecretHashNotInJSON(t *testing.T) {
	apiKey := APIKey{
		KeyID:        "0123456789abcdef",
		SecretHash:   "sha256hashvalue",
		Name:         "My Key",
		CreatedAt:    1700000000,
		QuotaDaily:   10,
		QuotaMonthly: 100,
		Enabled:      true,
		Metadata:     json.RawMessage(`{"plan":"trial"}`),
	}

	b, err := json.Marshal(apiKey)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["secret_hash"]; ok {
		t.Error("secret_hash should NOT appear in JSON output")
	}
	if _, ok := m["SecretHash"]; ok {
		t.Error("SecretHash should NOT appear in JSON output")
	}
	if m["key_id"] != "0123456789abcdef" {
		t.Errorf("key_id = %v", m["key_id"])
	}
	meta, ok := m["metadata"].(map[string]interface{})
	if !ok || meta["plan"] != "trial" {
		t.Errorf("metadata = %v, want plan=trial", m["metadata"])
	}
	if _, ok := m["expires_at"]; ok {
		t.Error("expires_at should be omitted when nil")
	}
}

func TestAPIKeyIsExpired(t *testing.T) {
	exp := int64(1000)
	tests := []struct {
		name    string
		expires *int64
		now     int64
		want    bool
	}{
		{"no expiry", nil, 5000, false},
		{"before expiry", &exp, 999, false},
		{"at expiry", &exp, 1000, true},
		{"after expiry", &exp, 1001, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := APIKey{ExpiresAt: tt.expires}
			if got := k.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired(%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    Window
		wantErr bool
	}{
		{"", WindowAllTime, false},
		{"all_time", WindowAllTime, false},
		{"trailing_day", WindowTrailingDay, false},
		{"daily", WindowTrailingDay, false},
		{"trailing_month", WindowTrailingMonth, false},
		{"monthly", WindowTrailingMonth, false},
		{"weekly", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindow(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWindow(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseWindow(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindowSince(t *testing.T) {
	now := int64(10_000_000)
	if got := WindowTrailingDay.Since(now); got != now-86400 {
		t.Errorf("trailing_day since = %d", got)
	}
	if got := WindowTrailingMonth.Since(now); got != now-2592000 {
		t.Errorf("trailing_month since = %d", got)
	}
	if got := WindowAllTime.Since(now); got != 0 {
		t.Errorf("all_time since = %d", got)
	}
}

func TestNewWindowUsageFloorsRemaining(t *testing.T) {
	u := NewWindowUsage(12, 10)
	if u.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", u.Remaining)
	}
	u = NewWindowUsage(3, 10)
	if u.Remaining != 7 {
		t.Errorf("Remaining = %d, want 7", u.Remaining)
	}
}

func TestQuotaDetailWithinQuota(t *testing.T) {
	tests := []struct {
		name    string
		daily   WindowUsage
		monthly WindowUsage
		want    bool
	}{
		{"both below", NewWindowUsage(1, 3), NewWindowUsage(1, 30), true},
		{"daily at threshold", NewWindowUsage(3, 3), NewWindowUsage(3, 30), false},
		{"monthly at threshold", NewWindowUsage(0, 3), NewWindowUsage(30, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := QuotaDetail{Daily: tt.daily, Monthly: tt.monthly}
			if got := d.WithinQuota(); got != tt.want {
				t.Errorf("WithinQuota() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorResponseJSON(t *testing.T) {
	er := ErrorResponse{
		Error: ErrorDetail{
			Code:    429,
			Message: "Quota exceeded",
			Context: map[string]interface{}{
				"window": "daily",
			},
		},
	}

	b, err := json.Marshal(er)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	errObj, ok := m["error"].(map[string]interface{})
	if !ok {
		t.Fatal("expected 'error' key to be an object")
	}
	if errObj["code"] != float64(429) {
		t.Errorf("error.code = %v, want 429", errObj["code"])
	}
	ctx, ok := errObj["context"].(map[string]interface{})
	if !ok {
		t.Fatal("expected 'context' key to be an object")
	}
	if ctx["window"] != "daily" {
		t.Errorf("error.context.window = %v, want %q", ctx["window"], "daily")
	}

	// Context should be omitted when nil
	b2, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 500, Message: "Internal error"}})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m2 map[string]interface{}
	if err := json.Unmarshal(b2, &m2); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	errObj2 := m2["error"].(map[string]interface{})
	if _, ok := errObj2["context"]; ok {
		t.Error("context should be omitted when nil")
	}
}
