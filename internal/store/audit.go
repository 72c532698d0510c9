package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quotagate/quotagate/internal/model"
)

// auditRow maps 1:1 to the audit_log table.
type auditRow struct {
	ID             int64          `db:"id"`
	Timestamp      int64          `db:"timestamp"`
	IP             string         `db:"ip"`
	Method         string         `db:"method"`
	Path           string         `db:"path"`
	Action         string         `db:"action"`
	KeyAffected    sql.NullString `db:"key_affected"`
	CredentialHash sql.NullString `db:"credential_hash"`
	Details        sql.NullString `db:"details"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r auditRow) toModel() model.AuditEntry {
	e := model.AuditEntry{
		ID:             r.ID,
		Timestamp:      r.Timestamp,
		IP:             r.IP,
		Method:         r.Method,
		Path:           r.Path,
		Action:         r.Action,
		KeyAffected:    r.KeyAffected.String,
		CredentialHash: r.CredentialHash.String,
	}
	if r.Details.Valid {
		e.Details = json.RawMessage(r.Details.String)
	}
	return e
}

// InsertAudit appends one admin action to the audit log and returns its id.
func (s *Store) InsertAudit(ctx context.Context, e *model.AuditEntry) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := `INSERT INTO audit_log (timestamp, ip, method, path, action, key_affected, credential_hash, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		e.Timestamp, e.IP, e.Method, e.Path, e.Action,
		nullString(e.KeyAffected), nullString(e.CredentialHash), nullString(string(e.Details)),
	}

	var id int64
	if s.dialect.returningID {
		if err := s.db.QueryRowxContext(ctx, s.db.Rebind(q+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert audit entry: %w", err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
		if err != nil {
			return 0, fmt.Errorf("insert audit entry: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return 0, fmt.Errorf("get audit entry id: %w", err)
		}
	}
	e.ID = id
	return id, nil
}

// ListAudit returns a page of audit entries, newest first, and the total
// number of entries matching the filter.
func (s *Store) ListAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where := ""
	var args []interface{}
	if f.Action != "" {
		where = " WHERE action = ?"
		args = append(args, f.Action)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM audit_log"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	var rows []auditRow
	q := s.db.Rebind(`SELECT id, timestamp, ip, method, path, action, key_affected, credential_hash, details
		FROM audit_log` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, q, append(args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	entries := make([]model.AuditEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, total, nil
}
