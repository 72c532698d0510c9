package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/quotagate/quotagate/internal/model"
)

// AdmitFunc decides, inside the consume transaction, whether a usage record
// may be written given the key and its current daily and monthly sums.
type AdmitFunc func(key *model.APIKey, dailyUsed, monthlyUsed int64) bool

// ConsumeResult reports what Consume observed and whether it wrote.
type ConsumeResult struct {
	Key         *model.APIKey
	DailyUsed   int64
	MonthlyUsed int64
	Admitted    bool
	RecordID    int64
}

// InsertUsage appends one usage record and returns its record_id.
// ErrNotFound is returned when rec.KeyID does not reference a known key.
func (s *Store) InsertUsage(ctx context.Context, rec *model.UsageRecord) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert usage: %w", err)
	}
	defer tx.Rollback()

	var exists int
	q := tx.Rebind("SELECT 1 FROM api_keys WHERE key_id = ?")
	if err := tx.GetContext(ctx, &exists, q, rec.KeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("check usage key: %w", err)
	}

	id, err := s.insertUsageTx(ctx, tx, rec)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert usage: %w", err)
	}
	rec.RecordID = id
	return id, nil
}

func (s *Store) insertUsageTx(ctx context.Context, tx *sqlx.Tx, rec *model.UsageRecord) (int64, error) {
	q := `INSERT INTO usage_records (key_id, timestamp, endpoint, cost, user_agent, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)`
	args := []interface{}{rec.KeyID, rec.Timestamp, rec.Endpoint, rec.Cost, rec.UserAgent, rec.IPAddress}

	if s.dialect.returningID {
		var id int64
		if err := tx.QueryRowxContext(ctx, tx.Rebind(q+" RETURNING record_id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert usage: %w", err)
		}
		return id, nil
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("insert usage: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get usage record id: %w", err)
	}
	return id, nil
}

// Consume is the single atomic check-and-record primitive. Within one
// transaction it locks the key row (where the engine supports row locks),
// sums usage since daySince and monthSince, asks admit, and appends rec only
// if admit returns true. ErrNotFound is returned for an unknown key.
func (s *Store) Consume(ctx context.Context, rec *model.UsageRecord, daySince, monthSince int64, admit AdmitFunc) (*ConsumeResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume: %w", err)
	}
	defer tx.Rollback()

	var row keyRow
	q := tx.Rebind("SELECT " + keyColumns + " FROM api_keys WHERE key_id = ?" + s.dialect.rowLock)
	if err := tx.GetContext(ctx, &row, q, rec.KeyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock api key: %w", err)
	}
	key := row.toModel()

	daily, monthly, err := windowSums(ctx, tx, rec.KeyID, daySince, monthSince)
	if err != nil {
		return nil, err
	}

	res := &ConsumeResult{Key: &key, DailyUsed: daily, MonthlyUsed: monthly}
	if !admit(&key, daily, monthly) {
		return res, nil
	}

	id, err := s.insertUsageTx(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}
	rec.RecordID = id
	res.Admitted = true
	res.RecordID = id
	return res, nil
}

// WindowSums returns the cost summed since daySince and since monthSince for
// one key. monthSince must not be after daySince.
func (s *Store) WindowSums(ctx context.Context, keyID string, daySince, monthSince int64) (daily, monthly int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return windowSums(ctx, s.db, keyID, daySince, monthSince)
}

// rebindQueryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func windowSums(ctx context.Context, q rebindQueryer, keyID string, daySince, monthSince int64) (int64, int64, error) {
	var sums struct {
		Daily   sql.NullInt64 `db:"daily"`
		Monthly sql.NullInt64 `db:"monthly"`
	}
	query := q.Rebind(`SELECT
		SUM(CASE WHEN timestamp >= ? THEN cost ELSE 0 END) AS daily,
		SUM(cost) AS monthly
		FROM usage_records
		WHERE key_id = ? AND timestamp >= ?`)
	if err := sqlx.GetContext(ctx, q, &sums, query, daySince, keyID, monthSince); err != nil {
		return 0, 0, fmt.Errorf("sum usage windows: %w", err)
	}
	return sums.Daily.Int64, sums.Monthly.Int64, nil
}

// UsageTotals returns the request count and cost sum for a key since a
// timestamp. An unknown key yields zeros.
func (s *Store) UsageTotals(ctx context.Context, keyID string, since int64) (requests, cost int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var totals struct {
		Requests int64         `db:"requests"`
		Cost     sql.NullInt64 `db:"cost"`
	}
	q := s.db.Rebind(`SELECT COUNT(*) AS requests, SUM(cost) AS cost
		FROM usage_records WHERE key_id = ? AND timestamp >= ?`)
	if err := s.db.GetContext(ctx, &totals, q, keyID, since); err != nil {
		return 0, 0, fmt.Errorf("usage totals: %w", err)
	}
	return totals.Requests, totals.Cost.Int64, nil
}

// TopEndpoints returns up to limit endpoints ordered by total cost
// descending, ties broken by endpoint name ascending.
func (s *Store) TopEndpoints(ctx context.Context, keyID string, since int64, limit int) ([]model.EndpointUsage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []model.EndpointUsage
	q := s.db.Rebind(`SELECT endpoint, COUNT(*) AS requests, SUM(cost) AS cost
		FROM usage_records
		WHERE key_id = ? AND timestamp >= ?
		GROUP BY endpoint
		ORDER BY SUM(cost) DESC, endpoint ASC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, keyID, since, limit); err != nil {
		return nil, fmt.Errorf("top endpoints: %w", err)
	}
	if rows == nil {
		rows = []model.EndpointUsage{}
	}
	return rows, nil
}

// LedgerTotals returns the request count and cost across all keys since a
// timestamp.
func (s *Store) LedgerTotals(ctx context.Context, since int64) (requests, cost int64, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var totals struct {
		Requests int64         `db:"requests"`
		Cost     sql.NullInt64 `db:"cost"`
	}
	q := s.db.Rebind(`SELECT COUNT(*) AS requests, SUM(cost) AS cost
		FROM usage_records WHERE timestamp >= ?`)
	if err := s.db.GetContext(ctx, &totals, q, since); err != nil {
		return 0, 0, fmt.Errorf("ledger totals: %w", err)
	}
	return totals.Requests, totals.Cost.Int64, nil
}
