package service

import (
	"context"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/store"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// AuditLog records admin actions that change keys or mint credentials.
type AuditLog struct {
	store *store.Store
	options
}

// NewAuditLog creates an AuditLog backed by st.
func NewAuditLog(st *store.Store, opts ...Option) *AuditLog {
	return &AuditLog{store: st, options: buildOptions(opts)}
}

// Record stamps e with the server clock, logs it and persists it. A failed
// write is logged and returned but does not undo the audited action.
func (a *AuditLog) Record(ctx context.Context, e model.AuditEntry) error {
	e.Timestamp = a.now().Unix()
	a.logger.Info("admin action",
		"action", e.Action,
		"key_id", e.KeyAffected,
		"ip", e.IP,
		"method", e.Method,
		"path", e.Path,
		"credential", e.CredentialHash,
	)
	if _, err := a.store.InsertAudit(ctx, &e); err != nil {
		a.logger.Error("audit write failed", "action", e.Action, "error", err)
		return storageErr("record audit entry", err)
	}
	return nil
}

// List returns one page of the audit log, newest first.
func (a *AuditLog) List(ctx context.Context, f model.AuditFilter) (*model.AuditPage, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > MaxAuditLimit {
		f.Limit = MaxAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	entries, total, err := a.store.ListAudit(ctx, f)
	if err != nil {
		return nil, storageErr("list audit entries", err)
	}
	return &model.AuditPage{
		Entries: entries,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: int64(f.Offset+len(entries)) < total,
	}, nil
}
