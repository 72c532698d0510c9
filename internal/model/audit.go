package model

import "encoding/json"

// Audited admin actions.
const (
	AuditCreateKey     = "create_key"
	AuditDisableKey    = "disable_key"
	AuditCreateSession = "create_session"
)

// AuditEntry is one persisted admin action. CredentialHash is a truncated
// digest of the credential used, never the credential itself.
type AuditEntry struct {
	ID             int64           `json:"id"`
	Timestamp      int64           `json:"timestamp"`
	IP             string          `json:"ip"`
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Action         string          `json:"action"`
	KeyAffected    string          `json:"key_affected,omitempty"`
	CredentialHash string          `json:"credential_hash,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// AuditFilter selects a page of the audit log, newest first.
type AuditFilter struct {
	Action string
	Limit  int
	Offset int
}

// AuditPage is a page of audit entries plus the filtered total.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}
