package store

import "fmt"

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id TEXT PRIMARY KEY,
		secret_hash TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		quota_daily INTEGER NOT NULL,
		quota_monthly INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		metadata TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		record_id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_id TEXT NOT NULL REFERENCES api_keys(key_id) ON DELETE CASCADE,
		timestamp INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		cost INTEGER NOT NULL CHECK (cost >= 1),
		user_agent TEXT,
		ip_address TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_key_time ON usage_records(key_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_enabled ON api_keys(enabled)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		ip TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		action TEXT NOT NULL,
		key_affected TEXT,
		credential_hash TEXT,
		details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id TEXT PRIMARY KEY,
		secret_hash TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		expires_at BIGINT,
		quota_daily BIGINT NOT NULL,
		quota_monthly BIGINT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metadata TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		record_id BIGSERIAL PRIMARY KEY,
		key_id TEXT NOT NULL REFERENCES api_keys(key_id) ON DELETE CASCADE,
		timestamp BIGINT NOT NULL,
		endpoint TEXT NOT NULL,
		cost BIGINT NOT NULL CHECK (cost >= 1),
		user_agent TEXT,
		ip_address TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_key_time ON usage_records(key_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_enabled ON api_keys(enabled)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		ip TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		action TEXT NOT NULL,
		key_affected TEXT,
		credential_hash TEXT,
		details TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the table DDL.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id VARCHAR(32) PRIMARY KEY,
		secret_hash CHAR(64) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		expires_at BIGINT NULL,
		quota_daily BIGINT NOT NULL,
		quota_monthly BIGINT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metadata LONGTEXT NULL,
		INDEX idx_keys_enabled (enabled)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		record_id BIGINT AUTO_INCREMENT PRIMARY KEY,
		key_id VARCHAR(32) NOT NULL,
		timestamp BIGINT NOT NULL,
		endpoint VARCHAR(1024) NOT NULL,
		cost BIGINT NOT NULL,
		user_agent VARCHAR(1024) NULL,
		ip_address VARCHAR(64) NULL,
		INDEX idx_usage_key_time (key_id, timestamp),
		CONSTRAINT fk_usage_key FOREIGN KEY (key_id) REFERENCES api_keys(key_id) ON DELETE CASCADE,
		CONSTRAINT chk_usage_cost CHECK (cost >= 1)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		ip VARCHAR(64) NOT NULL,
		method VARCHAR(16) NOT NULL,
		path VARCHAR(1024) NOT NULL,
		action VARCHAR(64) NOT NULL,
		key_affected VARCHAR(32) NULL,
		credential_hash CHAR(16) NULL,
		details TEXT NULL,
		INDEX idx_audit_action (action)
	) ENGINE=InnoDB`,
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
