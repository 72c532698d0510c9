package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/store"
)

// TopEndpointsLimit is how many endpoints Stats reports.
const TopEndpointsLimit = 10

// MaxCost caps a single record so window sums stay far from int64 overflow.
const MaxCost int64 = 1_000_000_000

// RecordRequest is one unit of usage to append. Cost 0 means 1.
type RecordRequest struct {
	KeyID     string
	Endpoint  string
	Cost      int64
	UserAgent string
	IPAddress string
}

func (r RecordRequest) toRecord(now int64) (*model.UsageRecord, error) {
	cost := r.Cost
	if cost == 0 {
		cost = 1
	}
	if cost < 1 || cost > MaxCost {
		return nil, ErrInvalidCost
	}
	return &model.UsageRecord{
		KeyID:     r.KeyID,
		Timestamp: now,
		Endpoint:  r.Endpoint,
		Cost:      cost,
		UserAgent: optional(r.UserAgent),
		IPAddress: optional(r.IPAddress),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UsageLedger appends usage records and aggregates them. Record is for
// reporting only; quota enforcement goes through QuotaEvaluator.TryConsume.
type UsageLedger struct {
	store *store.Store
	options
}

// NewUsageLedger creates a UsageLedger backed by st.
func NewUsageLedger(st *store.Store, opts ...Option) *UsageLedger {
	return &UsageLedger{store: st, options: buildOptions(opts)}
}

// Record appends one usage record stamped with the server clock and returns
// its record_id.
func (l *UsageLedger) Record(ctx context.Context, req RecordRequest) (int64, error) {
	rec, err := req.toRecord(l.now().Unix())
	if err != nil {
		return 0, err
	}
	id, err := l.store.InsertUsage(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrKeyNotFound
		}
		return 0, storageErr("record usage", err)
	}
	return id, nil
}

// Stats aggregates one key's usage over window. An unknown key yields zeros.
func (l *UsageLedger) Stats(ctx context.Context, keyID string, window model.Window) (*model.UsageStats, error) {
	since := window.Since(l.now().Unix())
	stats := &model.UsageStats{KeyID: keyID, Window: window}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.TotalRequests, stats.TotalCost, err = l.store.UsageTotals(gctx, keyID, since)
		return err
	})
	g.Go(func() error {
		var err error
		stats.Endpoints, err = l.store.TopEndpoints(gctx, keyID, since, TopEndpointsLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storageErr("usage stats", err)
	}
	return stats, nil
}

// Summary reports key counts and ledger totals across all keys.
func (l *UsageLedger) Summary(ctx context.Context, window model.Window) (*model.UsageSummary, error) {
	since := window.Since(l.now().Unix())
	sum := &model.UsageSummary{Window: window}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sum.TotalKeys, sum.EnabledKeys, err = l.store.CountAPIKeys(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sum.TotalRequests, sum.TotalCost, err = l.store.LedgerTotals(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storageErr("usage summary", err)
	}
	return sum, nil
}
