// Package store is the Control-Plane Store: the durable record of
// hosts, apps, backups, appliances, reservations, and settings. Every
// mutating operation runs inside a single transaction.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists all control-plane entities to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	// Set pragmas via DSN so EVERY pooled connection gets them — a PRAGMA
	// run via db.Exec only applies to the connection that ran it.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows only one writer at a time; keep the pool small so
	// goroutines queue at the Go level instead of fighting over the lock.
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			endpoint     TEXT NOT NULL,
			token_id     TEXT NOT NULL DEFAULT '',
			token_secret TEXT NOT NULL DEFAULT '',
			verify_tls   INTEGER NOT NULL DEFAULT 1,
			is_default   INTEGER NOT NULL DEFAULT 0,
			nodes_json   TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS apps (
			id            TEXT PRIMARY KEY,
			catalog_id    TEXT NOT NULL,
			name          TEXT NOT NULL,
			hostname      TEXT NOT NULL,
			host_id       TEXT NOT NULL,
			node_name     TEXT NOT NULL DEFAULT '',
			vmid          INTEGER NOT NULL DEFAULT 0,
			ip            TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			status_reason TEXT NOT NULL DEFAULT '',
			resources_json TEXT NOT NULL DEFAULT '{}',
			env_json      TEXT NOT NULL DEFAULT '{}',
			ports_json    TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			UNIQUE(host_id, hostname)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_apps_host_vmid ON apps(host_id, vmid) WHERE vmid > 0`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_apps_host_ip ON apps(host_id, ip) WHERE ip != ''`,
		`CREATE TABLE IF NOT EXISTS deployment_logs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id    TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			step      TEXT NOT NULL DEFAULT '',
			level     TEXT NOT NULL,
			message   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployment_logs_app_id ON deployment_logs(app_id)`,
		`CREATE TABLE IF NOT EXISTS backups (
			id          TEXT PRIMARY KEY,
			app_id      TEXT NOT NULL,
			filename    TEXT NOT NULL DEFAULT '',
			size_bytes  INTEGER NOT NULL DEFAULT 0,
			compression TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backups_app_id ON backups(app_id)`,
		`CREATE TABLE IF NOT EXISTS appliances (
			host_id     TEXT PRIMARY KEY,
			vmid        INTEGER NOT NULL DEFAULT 0,
			wan_ip      TEXT NOT NULL DEFAULT '',
			lan_ip      TEXT NOT NULL DEFAULT '',
			subnet      TEXT NOT NULL DEFAULT '',
			gateway     TEXT NOT NULL DEFAULT '',
			dhcp_start  TEXT NOT NULL DEFAULT '',
			dhcp_end    TEXT NOT NULL DEFAULT '',
			dns_domain  TEXT NOT NULL DEFAULT '',
			dhcp_state  TEXT NOT NULL DEFAULT 'Down',
			dns_state   TEXT NOT NULL DEFAULT 'Down',
			proxy_state TEXT NOT NULL DEFAULT 'Down',
			nat_state   TEXT NOT NULL DEFAULT 'Down',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			host_id    TEXT NOT NULL,
			hostname   TEXT NOT NULL,
			ip         TEXT NOT NULL,
			app_id     TEXT NOT NULL DEFAULT '',
			token      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (host_id, hostname)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_host_ip ON reservations(host_id, ip)`,
		`CREATE TABLE IF NOT EXISTS released_ips (
			host_id     TEXT NOT NULL,
			ip          TEXT NOT NULL,
			released_at TEXT NOT NULL,
			PRIMARY KEY (host_id, ip)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key       TEXT PRIMARY KEY,
			value     TEXT NOT NULL DEFAULT '',
			category  TEXT NOT NULL DEFAULT '',
			encrypted INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("running migration %q: %w", stmt, err)
		}
	}
	return nil
}
