package model

import "encoding/json"

// APIKey represents one credential. The raw secret is never stored; only its
// SHA-256 digest and the key_id derived from that digest are persisted.
type APIKey struct {
	KeyID        string          `json:"key_id" db:"key_id"`
	SecretHash   string          `json:"-" db:"secret_hash"` // never expose
	Name         string          `json:"name" db:"name"`
	CreatedAt    int64           `json:"created_at" db:"created_at"`
	ExpiresAt    *int64          `json:"expires_at,omitempty" db:"expires_at"`
	QuotaDaily   int64           `json:"quota_daily" db:"quota_daily"`
	QuotaMonthly int64           `json:"quota_monthly" db:"quota_monthly"`
	Enabled      bool            `json:"enabled" db:"enabled"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"-"`
}

// IsExpired reports whether the key has an expiry at or before now (unix seconds).
func (k *APIKey) IsExpired(now int64) bool {
	return k.ExpiresAt != nil && *k.ExpiresAt <= now
}

// UsageRecord is one immutable ledger entry.
type UsageRecord struct {
	RecordID  int64   `json:"record_id" db:"record_id"`
	KeyID     string  `json:"key_id" db:"key_id"`
	Timestamp int64   `json:"timestamp" db:"timestamp"`
	Endpoint  string  `json:"endpoint" db:"endpoint"`
	Cost      int64   `json:"cost" db:"cost"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
}
