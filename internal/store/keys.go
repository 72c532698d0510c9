package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quotagate/quotagate/internal/model"
)

// keyRow maps 1:1 to the api_keys table. Metadata is kept as a nullable
// string so the caller's bytes come back exactly as they went in.
type keyRow struct {
	KeyID        string         `db:"key_id"`
	SecretHash   string         `db:"secret_hash"`
	Name         string         `db:"name"`
	CreatedAt    int64          `db:"created_at"`
	ExpiresAt    sql.NullInt64  `db:"expires_at"`
	QuotaDaily   int64          `db:"quota_daily"`
	QuotaMonthly int64          `db:"quota_monthly"`
	Enabled      bool           `db:"enabled"`
	Metadata     sql.NullString `db:"metadata"`
}

const keyColumns = `key_id, secret_hash, name, created_at, expires_at, quota_daily, quota_monthly, enabled, metadata`

func keyRowFromModel(k *model.APIKey) keyRow {
	row := keyRow{
		KeyID:        k.KeyID,
		SecretHash:   k.SecretHash,
		Name:         k.Name,
		CreatedAt:    k.CreatedAt,
		QuotaDaily:   k.QuotaDaily,
		QuotaMonthly: k.QuotaMonthly,
		Enabled:      k.Enabled,
	}
	if k.ExpiresAt != nil {
		row.ExpiresAt = sql.NullInt64{Int64: *k.ExpiresAt, Valid: true}
	}
	if k.Metadata != nil {
		row.Metadata = sql.NullString{String: string(k.Metadata), Valid: true}
	}
	return row
}

func (r keyRow) toModel() model.APIKey {
	k := model.APIKey{
		KeyID:        r.KeyID,
		SecretHash:   r.SecretHash,
		Name:         r.Name,
		CreatedAt:    r.CreatedAt,
		QuotaDaily:   r.QuotaDaily,
		QuotaMonthly: r.QuotaMonthly,
		Enabled:      r.Enabled,
	}
	if r.ExpiresAt.Valid {
		exp := r.ExpiresAt.Int64
		k.ExpiresAt = &exp
	}
	if r.Metadata.Valid {
		k.Metadata = json.RawMessage(r.Metadata.String)
	}
	return k
}

// CreateAPIKey inserts a new key. ErrConflict is returned when key_id or
// secret_hash already exists.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO api_keys
		(key_id, secret_hash, name, created_at, expires_at, quota_daily, quota_monthly, enabled, metadata)
		VALUES
		(:key_id, :secret_hash, :name, :created_at, :expires_at, :quota_daily, :quota_monthly, :enabled, :metadata)`

	if _, err := s.db.NamedExecContext(ctx, q, keyRowFromModel(key)); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns a key by its key_id.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (*model.APIKey, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row keyRow
	q := s.db.Rebind("SELECT " + keyColumns + " FROM api_keys WHERE key_id = ?")
	if err := s.db.GetContext(ctx, &row, q, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k := row.toModel()
	return &k, nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 secret hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row keyRow
	q := s.db.Rebind("SELECT " + keyColumns + " FROM api_keys WHERE secret_hash = ?")
	if err := s.db.GetContext(ctx, &row, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	k := row.toModel()
	return &k, nil
}

// ListAPIKeys returns a snapshot of all keys, or only enabled ones, in
// storage order.
func (s *Store) ListAPIKeys(ctx context.Context, enabledOnly bool) ([]model.APIKey, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := "SELECT " + keyColumns + " FROM api_keys"
	var args []interface{}
	if enabledOnly {
		q += " WHERE enabled = ?"
		args = append(args, true)
	}

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys, nil
}

// DisableAPIKey marks a key as disabled. It reports whether the key existed
// and was enabled before the call.
func (s *Store) DisableAPIKey(ctx context.Context, keyID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind("UPDATE api_keys SET enabled = ? WHERE key_id = ? AND enabled = ?")
	result, err := s.db.ExecContext(ctx, q, false, keyID, true)
	if err != nil {
		return false, fmt.Errorf("disable api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("disable api key rows affected: %w", err)
	}
	return n > 0, nil
}

// CountAPIKeys returns the total and enabled key counts.
func (s *Store) CountAPIKeys(ctx context.Context) (total, enabled int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var counts struct {
		Total   int64         `db:"total"`
		Enabled sql.NullInt64 `db:"enabled"`
	}
	q := s.db.Rebind(`SELECT COUNT(*) AS total,
		SUM(CASE WHEN enabled = ? THEN 1 ELSE 0 END) AS enabled
		FROM api_keys`)
	if err := s.db.GetContext(ctx, &counts, q, true); err != nil {
		return 0, 0, fmt.Errorf("count api keys: %w", err)
	}
	return counts.Total, counts.Enabled.Int64, nil
}
