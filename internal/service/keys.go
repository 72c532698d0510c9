package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/store"
	"github.com/quotagate/quotagate/internal/telemetry"
)

// maxIssueAttempts bounds the retries on a secret_hash collision.
const maxIssueAttempts = 3

// MaxExpiryDays bounds a key's lifetime. Longer lifetimes overflow
// time.Duration arithmetic.
const MaxExpiryDays = 36500

// MaxKeyLifetime is MaxExpiryDays as a duration.
const MaxKeyLifetime = MaxExpiryDays * 24 * time.Hour

// KeyDefaults apply when an issue request leaves a field unset.
type KeyDefaults struct {
	QuotaDaily   int64
	QuotaMonthly int64
	// Expiry is the lifetime of a new key. Zero means keys never expire.
	Expiry time.Duration
}

// DefaultKeyDefaults returns 1000/day, 30000/month and a 30 day lifetime.
func DefaultKeyDefaults() KeyDefaults {
	return KeyDefaults{
		QuotaDaily:   1000,
		QuotaMonthly: 30000,
		Expiry:       30 * 24 * time.Hour,
	}
}

// IssueRequest describes a key to create. Zero quotas take the defaults.
type IssueRequest struct {
	Name         string
	QuotaDaily   int64
	QuotaMonthly int64
	// ExpiresIn overrides the default lifetime. A non-positive value means
	// the key never expires.
	ExpiresIn *time.Duration
	Metadata  json.RawMessage
}

// KeyStore issues, validates, lists and disables API keys.
type KeyStore struct {
	store    *store.Store
	defaults KeyDefaults
	options
}

// NewKeyStore creates a KeyStore backed by st.
func NewKeyStore(st *store.Store, defaults KeyDefaults, opts ...Option) *KeyStore {
	return &KeyStore{store: st, defaults: defaults, options: buildOptions(opts)}
}

// Issue creates a key and returns its raw secret. The secret is not stored
// and cannot be recovered later.
func (ks *KeyStore) Issue(ctx context.Context, req IssueRequest) (string, *model.APIKey, error) {
	daily, monthly := req.QuotaDaily, req.QuotaMonthly
	if daily == 0 {
		daily = ks.defaults.QuotaDaily
	}
	if monthly == 0 {
		monthly = ks.defaults.QuotaMonthly
	}
	if daily < 1 || monthly < 1 {
		return "", nil, ErrInvalidQuota
	}

	now := ks.now().UTC()
	lifetime := ks.defaults.Expiry
	if req.ExpiresIn != nil {
		lifetime = *req.ExpiresIn
	}
	if lifetime > MaxKeyLifetime {
		return "", nil, ErrInvalidExpiry
	}
	var expiresAt *int64
	if lifetime > 0 {
		exp := now.Add(lifetime).Unix()
		expiresAt = &exp
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		secret, err := GenerateSecret(ks.rand)
		if err != nil {
			return "", nil, err
		}
		hash := HashSecret(secret)
		key := &model.APIKey{
			KeyID:        DeriveKeyID(hash),
			SecretHash:   hash,
			Name:         req.Name,
			CreatedAt:    now.Unix(),
			ExpiresAt:    expiresAt,
			QuotaDaily:   daily,
			QuotaMonthly: monthly,
			Enabled:      true,
			Metadata:     req.Metadata,
		}

		err = ks.store.CreateAPIKey(ctx, key)
		if err == nil {
			ks.logger.Info("api key issued", "key_id", key.KeyID, "name", key.Name)
			return secret, key, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", nil, storageErr("issue key", err)
		}
		ks.logger.Warn("secret collision on issue, retrying", "attempt", attempt)
	}
	return "", nil, ErrCollisionExhausted
}

// Validate returns the key for a raw secret, or nil when the secret is
// unknown, disabled or expired. Those cases are indistinguishable here; the
// only error is a StorageError.
func (ks *KeyStore) Validate(ctx context.Context, secret string) (*model.APIKey, error) {
	key, err := ks.Authenticate(ctx, secret)
	if err != nil {
		if IsStorageError(err) {
			return nil, err
		}
		return nil, nil
	}
	return key, nil
}

// Authenticate is Validate with the failure cause preserved for audit use:
// ErrKeyNotFound, ErrKeyDisabled, ErrKeyExpired, ErrInvalidSecret or a
// StorageError. The cause must not be shown to the caller.
func (ks *KeyStore) Authenticate(ctx context.Context, secret string) (*model.APIKey, error) {
	key, err := ks.authenticate(ctx, secret)
	if err != nil {
		reason := failureReason(err)
		telemetry.RecordValidation(reason)
		attrs := []any{"reason", reason}
		if key != nil {
			attrs = append(attrs, "key_id", key.KeyID)
		}
		if IsStorageError(err) {
			ks.logger.Error("api key validation failed", append(attrs, "error", err)...)
		} else {
			ks.logger.Info("api key rejected", attrs...)
		}
		return nil, err
	}
	telemetry.RecordValidation(telemetry.ReasonNone)
	return key, nil
}

// authenticate may return a non-nil key alongside an error so the caller
// can log which key was refused.
func (ks *KeyStore) authenticate(ctx context.Context, secret string) (*model.APIKey, error) {
	if !wellFormedSecret(secret) {
		return nil, ErrInvalidSecret
	}
	hash := HashSecret(secret)

	key, err := ks.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storageErr("validate key", err)
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(key.SecretHash)) != 1 {
		return key, ErrInvalidSecret
	}
	if !key.Enabled {
		return key, ErrKeyDisabled
	}
	if key.IsExpired(ks.now().Unix()) {
		return key, ErrKeyExpired
	}
	return key, nil
}

// Disable turns a key off. It reports true only when the key existed and was
// enabled. Usage history is kept.
func (ks *KeyStore) Disable(ctx context.Context, keyID string) (bool, error) {
	changed, err := ks.store.DisableAPIKey(ctx, keyID)
	if err != nil {
		return false, storageErr("disable key", err)
	}
	if changed {
		ks.logger.Info("api key disabled", "key_id", keyID)
	}
	return changed, nil
}

// Get returns a key by key_id, or ErrKeyNotFound.
func (ks *KeyStore) Get(ctx context.Context, keyID string) (*model.APIKey, error) {
	key, err := ks.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, storageErr("get key", err)
	}
	return key, nil
}

// List returns a snapshot of keys in storage order.
func (ks *KeyStore) List(ctx context.Context, enabledOnly bool) ([]model.APIKey, error) {
	keys, err := ks.store.ListAPIKeys(ctx, enabledOnly)
	if err != nil {
		return nil, storageErr("list keys", err)
	}
	return keys, nil
}

