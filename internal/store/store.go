// Package store owns all persistent state: the three channel collections,
// the blacklist ledger, the global email index, and per-keyword discovery
// cursors, backed by a single SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle behind a single serialization point. Network
// calls made by callers run concurrently; every store operation is serialized
// through one connection plus one mutex, so cross-row read-modify-write
// sequences are never interleaved.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the channel database at path and prepares the
// schema, including the legacy single-table migration when needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrateLegacy(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("store: opened", slog.String("path", path))
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	for _, col := range Collections {
		table := col.table()
		_, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id          TEXT NOT NULL UNIQUE,
			name                TEXT,
			url                 TEXT NOT NULL,
			subscribers         INTEGER,
			language            TEXT,
			language_confidence REAL,
			emails              TEXT,
			email_gate_present  INTEGER,
			last_updated        TEXT,
			created_at          TEXT NOT NULL,
			last_attempted      TEXT,
			last_enriched_at    TEXT,
			last_enriched_result TEXT,
			needs_enrichment    INTEGER NOT NULL DEFAULT 1,
			last_error          TEXT,
			status              TEXT NOT NULL DEFAULT 'new',
			status_reason       TEXT,
			last_status_change  TEXT,
			archived_at         TEXT,
			exported_at         TEXT
		)`, table))
		if err != nil {
			return fmt.Errorf("store: create %s: %w", table, err)
		}
		// Columns added after the first release; idempotent.
		for _, c := range []struct{ name, def string }{
			{"email_gate_present", "INTEGER"},
			{"last_enriched_at", "TEXT"},
			{"last_enriched_result", "TEXT"},
			{"archived_at", "TEXT"},
			{"exported_at", "TEXT"},
		} {
			if err := s.ensureColumn(table, c.name, c.def); err != nil {
				return err
			}
		}
		if _, err := s.db.Exec(fmt.Sprintf(
			`UPDATE %s SET archived_at = last_status_change
			 WHERE archived_at IS NULL AND status = 'archived' AND last_status_change IS NOT NULL`,
			table)); err != nil {
			return fmt.Errorf("store: backfill archived_at: %w", err)
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blacklist (
			channel_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS emails_unique (
			email                 TEXT PRIMARY KEY,
			first_seen_channel_id TEXT,
			last_seen_at          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_emails (
			channel_id   TEXT NOT NULL,
			email        TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			UNIQUE(channel_id, email),
			FOREIGN KEY(email) REFERENCES emails_unique(email)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_emails_channel_id ON channel_emails(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_emails_email ON channel_emails(email)`,
		`CREATE TABLE IF NOT EXISTS discovery_keyword_states (
			keyword         TEXT PRIMARY KEY,
			next_page_token TEXT,
			page_index      INTEGER NOT NULL DEFAULT 0,
			last_run_at     TEXT,
			exhausted       INTEGER NOT NULL DEFAULT 0,
			no_new_pages    INTEGER NOT NULL DEFAULT 0,
			session_json    TEXT,
			updated_at      TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return s.ensureColumn("discovery_keyword_states", "session_json", "TEXT")
}

func (s *Store) ensureColumn(table, column, definition string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()
	exists := false
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("store: scan table_info: %w", err)
		}
		if name == column {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		return fmt.Errorf("store: add column %s.%s: %w", table, column, err)
	}
	return nil
}
