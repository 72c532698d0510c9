package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/model"
)

func TestAuditLogRecordAndList(t *testing.T) {
	ts := newTestServices(t)
	audit := NewAuditLog(ts.store, WithClock(ts.clock.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	_, key := ts.issue(t, IssueRequest{Name: "audited"})
	if err := audit.Record(ctx, model.AuditEntry{
		IP: "10.1.1.1", Method: "POST", Path: "/api/v1/admin/keys",
		Action: model.AuditCreateKey, KeyAffected: key.KeyID,
		Details: json.RawMessage(`{"name":"audited"}`),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	ts.clock.Advance(time.Minute)
	if err := audit.Record(ctx, model.AuditEntry{
		IP: "10.1.1.1", Method: "DELETE", Path: "/api/v1/admin/keys/" + key.KeyID,
		Action: model.AuditDisableKey, KeyAffected: key.KeyID,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	page, err := audit.List(ctx, model.AuditFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Limit != DefaultAuditLimit || page.Total != 2 || page.HasMore {
		t.Errorf("page = %+v", page)
	}
	if page.Entries[0].Action != model.AuditDisableKey {
		t.Errorf("newest entry = %+v", page.Entries[0])
	}
	if page.Entries[0].Timestamp != testEpoch.Add(time.Minute).Unix() {
		t.Errorf("timestamp = %d, want server clock", page.Entries[0].Timestamp)
	}

	page, err = audit.List(ctx, model.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Entries) != 1 || !page.HasMore {
		t.Errorf("first page of one = %+v", page)
	}

	page, _ = audit.List(ctx, model.AuditFilter{Limit: 5000, Action: model.AuditCreateKey})
	if page.Limit != MaxAuditLimit || page.Total != 1 {
		t.Errorf("clamped filtered page = %+v", page)
	}
}
