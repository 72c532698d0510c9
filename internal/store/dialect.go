package store

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// dialect captures the few places where the supported engines disagree:
// DDL, how inserted ids come back, and whether a row can be locked.
type dialect struct {
	name        string
	driverName  string
	migrations  []string
	returningID bool
	rowLock     string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		migrations: sqliteMigrations,
	},
	"postgres": {
		name:        "postgres",
		driverName:  "pgx",
		migrations:  postgresMigrations,
		returningID: true,
		rowLock:     " FOR UPDATE",
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		migrations: mysqlMigrations,
		rowLock:    " FOR UPDATE",
	},
}

func lookupDialect(name string) (dialect, error) {
	if name == "" {
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("%w: %q (want sqlite, postgres or mysql)", ErrUnsupportedDriver, name)
	}
	return d, nil
}

// normalizeMySQLDSN parses a go-sql-driver DSN and pins the options the
// store relies on. Timestamps are stored as integers so parseTime is not
// needed, but a read timeout keeps a stalled server from hanging a request.
func normalizeMySQLDSN(dsn string, timeout time.Duration) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if timeout > 0 {
		if cfg.ReadTimeout == 0 {
			cfg.ReadTimeout = timeout
		}
		if cfg.WriteTimeout == 0 {
			cfg.WriteTimeout = timeout
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = timeout
		}
	}
	return cfg.FormatDSN(), nil
}
