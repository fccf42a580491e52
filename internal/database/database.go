// Package database is the SQLite document backend. Each document is one row
// holding the JSON blob and an integer version that every write bumps.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/retry"
)

type DB struct {
	conn  *sql.DB
	retry retry.Policy
}

var _ docstore.Store = (*DB)(nil)

func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		retry: retry.Policy{
			MaxAttempts: 4,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			Multiplier:  2,
			Jitter:      0.2,
		},
	}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key        TEXT    PRIMARY KEY,
			data       BLOB    NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS document_writes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			key        TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_writes_key ON document_writes(key)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// storeErr maps driver errors onto the store taxonomy.
func storeErr(op, key string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%s %s: %w: %v", op, key, docstore.ErrTransientIO, err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
