package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/quotagate/quotagate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedKey(t *testing.T, s *Store, id, hash string) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		KeyID:        id,
		SecretHash:   hash,
		Name:         "key " + id,
		CreatedAt:    1_700_000_000,
		QuotaDaily:   3,
		QuotaMonthly: 10,
		Enabled:      true,
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey(%s): %v", id, err)
	}
	return key
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := int64(1_800_000_000)
	key := &model.APIKey{
		KeyID:        "aaaaaaaaaaaaaaaa",
		SecretHash:   "hash-a",
		Name:         "CI pipeline",
		CreatedAt:    1_700_000_000,
		ExpiresAt:    &exp,
		QuotaDaily:   100,
		QuotaMonthly: 3000,
		Enabled:      true,
		Metadata:     json.RawMessage(`{"user_id": "123",  "plan":"trial"}`),
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.KeyID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Name != "CI pipeline" {
		t.Errorf("got name %q", got.Name)
	}
	if got.ExpiresAt == nil || *got.ExpiresAt != exp {
		t.Errorf("got expires_at %v, want %d", got.ExpiresAt, exp)
	}
	if string(got.Metadata) != `{"user_id": "123",  "plan":"trial"}` {
		t.Errorf("metadata not preserved byte-for-byte: %s", got.Metadata)
	}

	byHash, err := s.GetAPIKeyByHash(ctx, "hash-a")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if byHash.KeyID != key.KeyID {
		t.Errorf("got key_id %q, want %q", byHash.KeyID, key.KeyID)
	}

	if _, err := s.GetAPIKey(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	changed, err := s.DisableAPIKey(ctx, key.KeyID)
	if err != nil {
		t.Fatalf("DisableAPIKey: %v", err)
	}
	if !changed {
		t.Error("first disable should report true")
	}
	changed, err = s.DisableAPIKey(ctx, key.KeyID)
	if err != nil {
		t.Fatalf("DisableAPIKey again: %v", err)
	}
	if changed {
		t.Error("second disable should report false")
	}
	changed, _ = s.DisableAPIKey(ctx, "missing")
	if changed {
		t.Error("disabling an absent key should report false")
	}

	got, _ = s.GetAPIKey(ctx, key.KeyID)
	if got.Enabled {
		t.Error("key should be disabled")
	}
}

func TestCreateAPIKeyConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedKey(t, s, "k1", "same-hash")

	dup := &model.APIKey{KeyID: "k2", SecretHash: "same-hash", QuotaDaily: 1, QuotaMonthly: 1, Enabled: true}
	if err := s.CreateAPIKey(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate secret_hash: expected ErrConflict, got %v", err)
	}

	dup = &model.APIKey{KeyID: "k1", SecretHash: "other", QuotaDaily: 1, QuotaMonthly: 1, Enabled: true}
	if err := s.CreateAPIKey(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate key_id: expected ErrConflict, got %v", err)
	}
}

func TestListAndCountAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedKey(t, s, "k1", "h1")
	seedKey(t, s, "k2", "h2")
	seedKey(t, s, "k3", "h3")
	if _, err := s.DisableAPIKey(ctx, "k2"); err != nil {
		t.Fatalf("DisableAPIKey: %v", err)
	}

	all, err := s.ListAPIKeys(ctx, false)
	if err != nil {
		t.Fatalf("ListAPIKeys(all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d keys, want 3", len(all))
	}

	enabled, err := s.ListAPIKeys(ctx, true)
	if err != nil {
		t.Fatalf("ListAPIKeys(enabled): %v", err)
	}
	if len(enabled) != 2 {
		t.Errorf("got %d enabled keys, want 2", len(enabled))
	}
	for _, k := range enabled {
		if k.KeyID == "k2" {
			t.Error("disabled key k2 listed as enabled")
		}
	}

	total, active, err := s.CountAPIKeys(ctx)
	if err != nil {
		t.Fatalf("CountAPIKeys: %v", err)
	}
	if total != 3 || active != 2 {
		t.Errorf("counts = (%d, %d), want (3, 2)", total, active)
	}
}

func TestInsertUsageUnknownKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertUsage(context.Background(), &model.UsageRecord{
		KeyID: "ghost", Timestamp: 1, Endpoint: "/x", Cost: 1,
	})
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertUsageMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedKey(t, s, "k1", "h1")
	seedKey(t, s, "k2", "h2")

	var last int64
	for i, keyID := range []string{"k1", "k2", "k1", "k2"} {
		id, err := s.InsertUsage(ctx, &model.UsageRecord{
			KeyID: keyID, Timestamp: int64(100 + i), Endpoint: "/a", Cost: 1,
		})
		if err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
		if id <= last {
			t.Fatalf("record_id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestUsageAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedKey(t, s, "k1", "h1")
	seedKey(t, s, "k2", "h2")

	records := []model.UsageRecord{
		{KeyID: "k1", Timestamp: 100, Endpoint: "/b", Cost: 2},
		{KeyID: "k1", Timestamp: 200, Endpoint: "/a", Cost: 2},
		{KeyID: "k1", Timestamp: 300, Endpoint: "/c", Cost: 5},
		{KeyID: "k1", Timestamp: 400, Endpoint: "/c", Cost: 1},
		{KeyID: "k2", Timestamp: 400, Endpoint: "/z", Cost: 50},
	}
	for i := range records {
		if _, err := s.InsertUsage(ctx, &records[i]); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}

	requests, cost, err := s.UsageTotals(ctx, "k1", 0)
	if err != nil {
		t.Fatalf("UsageTotals: %v", err)
	}
	if requests != 4 || cost != 10 {
		t.Errorf("totals = (%d, %d), want (4, 10)", requests, cost)
	}

	requests, cost, _ = s.UsageTotals(ctx, "k1", 250)
	if requests != 2 || cost != 6 {
		t.Errorf("totals since 250 = (%d, %d), want (2, 6)", requests, cost)
	}

	requests, cost, _ = s.UsageTotals(ctx, "nobody", 0)
	if requests != 0 || cost != 0 {
		t.Errorf("unknown key totals = (%d, %d), want zeros", requests, cost)
	}

	top, err := s.TopEndpoints(ctx, "k1", 0, 10)
	if err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	want := []model.EndpointUsage{
		{Endpoint: "/c", Requests: 2, Cost: 6},
		{Endpoint: "/a", Requests: 1, Cost: 2},
		{Endpoint: "/b", Requests: 1, Cost: 2},
	}
	if len(top) != len(want) {
		t.Fatalf("got %d endpoints, want %d: %+v", len(top), len(want), top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("endpoint[%d] = %+v, want %+v", i, top[i], want[i])
		}
	}

	empty, err := s.TopEndpoints(ctx, "nobody", 0, 10)
	if err != nil {
		t.Fatalf("TopEndpoints(unknown): %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	daily, monthly, err := s.WindowSums(ctx, "k1", 300, 200)
	if err != nil {
		t.Fatalf("WindowSums: %v", err)
	}
	if daily != 6 || monthly != 8 {
		t.Errorf("window sums = (%d, %d), want (6, 8)", daily, monthly)
	}

	requests, cost, err = s.LedgerTotals(ctx, 0)
	if err != nil {
		t.Fatalf("LedgerTotals: %v", err)
	}
	if requests != 5 || cost != 60 {
		t.Errorf("ledger totals = (%d, %d), want (5, 60)", requests, cost)
	}
}

func TestConsumeWritesOnlyWhenAdmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedKey(t, s, "k1", "h1")

	refuse := func(*model.APIKey, int64, int64) bool { return false }
	res, err := s.Consume(ctx, &model.UsageRecord{KeyID: "k1", Timestamp: 10, Endpoint: "/a", Cost: 1}, 0, 0, refuse)
	if err != nil {
		t.Fatalf("Consume(refuse): %v", err)
	}
	if res.Admitted || res.RecordID != 0 {
		t.Errorf("refused consume reported admission: %+v", res)
	}
	if n, _, _ := s.UsageTotals(ctx, "k1", 0); n != 0 {
		t.Errorf("refused consume wrote %d records", n)
	}

	var seenDaily, seenMonthly int64
	accept := func(key *model.APIKey, daily, monthly int64) bool {
		if key.KeyID != "k1" {
			t.Errorf("admit saw key %q", key.KeyID)
		}
		seenDaily, seenMonthly = daily, monthly
		return true
	}
	for i := 0; i < 2; i++ {
		res, err = s.Consume(ctx, &model.UsageRecord{KeyID: "k1", Timestamp: 10, Endpoint: "/a", Cost: 2}, 0, 0, accept)
		if err != nil {
			t.Fatalf("Consume(accept): %v", err)
		}
		if !res.Admitted || res.RecordID == 0 {
			t.Errorf("accepted consume not recorded: %+v", res)
		}
	}
	if seenDaily != 2 || seenMonthly != 2 {
		t.Errorf("second consume saw sums (%d, %d), want (2, 2)", seenDaily, seenMonthly)
	}

	if _, err := s.Consume(ctx, &model.UsageRecord{KeyID: "ghost", Timestamp: 10, Endpoint: "/a", Cost: 1}, 0, 0, accept); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown key, got %v", err)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Errorf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := Open(Options{Driver: "postgres"}); err == nil {
		t.Error("expected error for postgres without dsn")
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := normalizeMySQLDSN("user:pass@tcp(localhost:3306)/quota", DefaultQueryTimeout)
	if err != nil {
		t.Fatalf("normalizeMySQLDSN: %v", err)
	}
	for _, want := range []string{"timeout=5s", "readTimeout=5s", "writeTimeout=5s"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
	if _, err := normalizeMySQLDSN("::not a dsn::", 0); err == nil {
		t.Error("expected parse error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("constraint failed: UNIQUE constraint failed: api_keys.secret_hash (2067)"), true},
		{errors.New("FOREIGN KEY constraint failed"), false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
