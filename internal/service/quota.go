package service

import (
	"context"
	"errors"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/store"
	"github.com/quotagate/quotagate/internal/telemetry"
)

// ConsumeRequest asks to spend Cost units for KeyID. Cost 0 means 1.
type ConsumeRequest = RecordRequest

// QuotaEvaluator decides admission against trailing daily (24h) and monthly
// (30 day) windows. It holds no state between calls beyond the per-key
// locks that serialize TryConsume.
type QuotaEvaluator struct {
	store *store.Store
	locks *keyLocks
	options
}

// NewQuotaEvaluator creates a QuotaEvaluator backed by st.
func NewQuotaEvaluator(st *store.Store, opts ...Option) *QuotaEvaluator {
	return &QuotaEvaluator{store: st, locks: &keyLocks{}, options: buildOptions(opts)}
}

// Peek reports current usage without consuming. within is true only when
// both windows are strictly below their quota. Advisory only: admission
// decisions must use TryConsume.
func (e *QuotaEvaluator) Peek(ctx context.Context, keyID string) (within bool, detail *model.QuotaDetail, err error) {
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil, ErrKeyNotFound
		}
		return false, nil, storageErr("peek quota", err)
	}

	now := e.now().Unix()
	daily, monthly, err := e.store.WindowSums(ctx, keyID,
		model.WindowTrailingDay.Since(now), model.WindowTrailingMonth.Since(now))
	if err != nil {
		return false, nil, storageErr("peek quota", err)
	}
	d := quotaDetail(key, daily, monthly)
	return d.WithinQuota(), &d, nil
}

// TryConsume atomically checks both windows and, only if cost fits in each,
// appends the usage record. A refused admission writes nothing and is
// reported in the result, not as an error: Refused for a disabled or expired
// key, Exceeded for an exhausted window. Errors are ErrKeyNotFound,
// ErrInvalidCost or a StorageError; on a StorageError the consumption must
// be treated as not admitted.
func (e *QuotaEvaluator) TryConsume(ctx context.Context, req ConsumeRequest) (*model.Admission, error) {
	unlock := e.locks.lock(req.KeyID)
	defer unlock()

	// Stamp after the lock so record order and timestamp order agree.
	now := e.now().Unix()
	rec, err := req.toRecord(now)
	if err != nil {
		return nil, err
	}

	var (
		refused  model.Refusal
		exceeded model.QuotaWindow
	)
	res, err := e.store.Consume(ctx, rec,
		model.WindowTrailingDay.Since(now), model.WindowTrailingMonth.Since(now),
		func(key *model.APIKey, daily, monthly int64) bool {
			switch {
			case !key.Enabled:
				refused = model.RefusedDisabled
			case key.IsExpired(now):
				refused = model.RefusedExpired
			default:
				exceeded = exceededWindow(key, daily, monthly, rec.Cost)
			}
			return refused == "" && exceeded == ""
		})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		e.logger.Error("consume failed, not admitted", "key_id", rec.KeyID, "error", err)
		return nil, storageErr("consume quota", err)
	}

	daily, monthly := res.DailyUsed, res.MonthlyUsed
	if res.Admitted {
		daily += rec.Cost
		monthly += rec.Cost
	}
	adm := &model.Admission{
		Accepted: res.Admitted,
		Refused:  refused,
		Exceeded: exceeded,
		RecordID: res.RecordID,
		Detail:   quotaDetail(res.Key, daily, monthly),
	}
	switch {
	case refused != "":
		telemetry.RecordAdmission(false, string(refused))
		e.logger.Info("consume refused", "key_id", rec.KeyID, "reason", refused)
	case !adm.Accepted:
		telemetry.RecordAdmission(false, string(exceeded))
		e.logger.Info("quota exceeded", "key_id", rec.KeyID, "window", exceeded, "cost", rec.Cost)
	default:
		telemetry.RecordAdmission(true, "")
	}
	return adm, nil
}

// exceededWindow returns the first window that cannot absorb cost, or "".
// Usage may reach the quota exactly; it may never pass it. The comparison
// is against the remaining budget so a huge cost cannot wrap the sum.
func exceededWindow(key *model.APIKey, daily, monthly, cost int64) model.QuotaWindow {
	if cost > key.QuotaDaily-daily {
		return model.QuotaDaily
	}
	if cost > key.QuotaMonthly-monthly {
		return model.QuotaMonthly
	}
	return ""
}

func quotaDetail(key *model.APIKey, daily, monthly int64) model.QuotaDetail {
	return model.QuotaDetail{
		KeyID:   key.KeyID,
		Daily:   model.NewWindowUsage(daily, key.QuotaDaily),
		Monthly: model.NewWindowUsage(monthly, key.QuotaMonthly),
	}
}
