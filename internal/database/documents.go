package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/thinkscotty/newsroom/internal/docstore"
	"github.com/thinkscotty/newsroom/internal/retry"
)

func (db *DB) Read(ctx context.Context, key string) (docstore.Document, error) {
	var doc docstore.Document
	_, err := retryIO(ctx, db, func(ctx context.Context) error {
		var data []byte
		var version int64
		err := db.conn.QueryRowContext(ctx,
			`SELECT data, version FROM documents WHERE key = ?`, key,
		).Scan(&data, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.ErrNotFound
		}
		if err != nil {
			return storeErr("read", key, err)
		}
		doc = docstore.Document{Key: key, Data: data, Version: strconv.FormatInt(version, 10)}
		return nil
	})
	return doc, err
}

func (db *DB) Write(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	var newVersion int64
	_, err := retryIO(ctx, db, func(ctx context.Context) error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return storeErr("write", key, err)
		}
		defer tx.Rollback()

		if expectedVersion == "" {
			newVersion = 1
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO documents (key, data, version) VALUES (?, ?, 1)`, key, data)
			if err != nil {
				return storeErr("write", key, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return db.conflict(ctx, tx, key, expectedVersion)
			}
		} else {
			expected, err := strconv.ParseInt(expectedVersion, 10, 64)
			if err != nil {
				return db.conflict(ctx, tx, key, expectedVersion)
			}
			err = tx.QueryRowContext(ctx,
				`UPDATE documents SET data = ?, version = version + 1, updated_at = datetime('now')
				 WHERE key = ? AND version = ? RETURNING version`,
				data, key, expected,
			).Scan(&newVersion)
			if errors.Is(err, sql.ErrNoRows) {
				return db.conflict(ctx, tx, key, expectedVersion)
			}
			if err != nil {
				return storeErr("write", key, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_writes (key, version, size_bytes) VALUES (?, ?, ?)`,
			key, newVersion, len(data),
		); err != nil {
			return storeErr("log write", key, err)
		}
		if err := tx.Commit(); err != nil {
			return storeErr("commit", key, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(newVersion, 10), nil
}

func (db *DB) CreateIfMissing(ctx context.Context, key string, initial []byte) (string, error) {
	version, err := db.Write(ctx, key, initial, "")
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, docstore.ErrConflict) {
		return "", err
	}
	doc, err := db.Read(ctx, key)
	if err != nil {
		return "", err
	}
	return doc.Version, nil
}

// WriteCount returns how many versions of key have been written.
func (db *DB) WriteCount(ctx context.Context, key string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_writes WHERE key = ?`, key).Scan(&n)
	return n, err
}

func (db *DB) conflict(ctx context.Context, tx *sql.Tx, key, expected string) error {
	var current int64
	actual := ""
	if err := tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE key = ?`, key).Scan(&current); err == nil {
		actual = strconv.FormatInt(current, 10)
	}
	return &docstore.ConflictError{Key: key, Expected: expected, Actual: actual}
}

// retryIO retries busy-database failures; everything else is returned as is.
func retryIO(ctx context.Context, db *DB, op func(ctx context.Context) error) (int, error) {
	return retry.DoWhen(ctx, db.retry, docstore.Retryable, op)
}
