package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout bounds every store operation so a stalled database
// surfaces as an error instead of a hung request.
const DefaultQueryTimeout = 5 * time.Second

// Options selects and tunes the backing database.
type Options struct {
	// Driver is one of "sqlite" (default), "postgres" or "mysql".
	Driver string
	// DSN is the connection string for postgres and mysql. For sqlite it
	// overrides DataDir when set.
	DSN string
	// DataDir holds quotagate.db for sqlite. Empty means in-memory.
	DataDir      string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// Store owns the two ledger collections: API keys and usage records. It is
// the only component that talks to the database; KeyStore and UsageLedger
// reach it through the methods below.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	timeout time.Duration
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(Options{Driver: "sqlite", DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(opts Options) (*Store, error) {
	d, err := lookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	dsn := opts.DSN
	switch d.name {
	case "sqlite":
		if dsn == "" {
			dsn, err = sqliteDSN(opts.DataDir, timeout)
			if err != nil {
				return nil, err
			}
		}
	case "mysql":
		if dsn, err = normalizeMySQLDSN(dsn, timeout); err != nil {
			return nil, err
		}
	default:
		if dsn == "" {
			return nil, fmt.Errorf("store driver %s requires a dsn", d.name)
		}
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := &Store{db: db, dialect: d, timeout: timeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

func sqliteDSN(dataDir string, timeout time.Duration) (string, error) {
	if dataDir == "" {
		return ":memory:", nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		filepath.Join(dataDir, "quotagate.db"), timeout.Milliseconds()), nil
}

// Driver returns the dialect name in use.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
