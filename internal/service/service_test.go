package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServices struct {
	store  *store.Store
	clock  *testClock
	keys   *KeyStore
	ledger *UsageLedger
	quota  *QuotaEvaluator
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	st := newTestStore(t)
	clock := newTestClock()
	opts := []Option{WithClock(clock.Now), WithLogger(quietLogger())}
	return &testServices{
		store:  st,
		clock:  clock,
		keys:   NewKeyStore(st, DefaultKeyDefaults(), opts...),
		ledger: NewUsageLedger(st, opts...),
		quota:  NewQuotaEvaluator(st, opts...),
	}
}

func (ts *testServices) issue(t *testing.T, req IssueRequest) (string, *model.APIKey) {
	t.Helper()
	secret, key, err := ts.keys.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return secret, key
}

// repeatReader yields the same bytes forever so every generated secret is
// identical.
type repeatReader struct{ b byte }

func (r repeatReader) Read(p []byte) (int, error) {
	copy(p, bytes.Repeat([]byte{r.b}, len(p)))
	return len(p), nil
}
