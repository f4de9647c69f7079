package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"snipex/internal/logging"
)

// Driver names registered by the two SQLite implementations.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// SQLStore is a KV persisted in a single SQLite table.
type SQLStore struct {
	db     *sql.DB
	path   string
	driver string
	quota  int
}

// OpenSQL opens (creating if needed) the store at path with the given
// driver. quota > 0 bounds the total key and value bytes.
func OpenSQL(driver, path string, quota int) (*SQLStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQL")
	defer timer.Stop()

	if driver == "" {
		driver = DriverCGO
	}
	if driver != DriverCGO && driver != DriverPureGo {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, &StorageError{Op: "open", Key: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "init", Key: path, Err: err}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
		logging.StoreDebug("recording schema version: %v", err)
	}

	logging.Store("Opened %s store at %s (quota %d)", driver, path, quota)
	return &SQLStore{db: db, path: path, driver: driver, quota: quota}, nil
}

// Path returns the database file.
func (s *SQLStore) Path() string { return s.path }

func (s *SQLStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := "SELECT key, value FROM kv WHERE key IN (?" + strings.Repeat(",?", len(keys)-1) + ")"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: keys[0], Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, &StorageError{Op: "get", Key: k, Err: err}
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return out, nil
}

// Set writes values in one transaction. With a quota, the transaction is
// rolled back when the table would grow past it.
func (s *SQLStore) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	keys := sortedKeys(values)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "set", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return &StorageError{Op: "set", Err: err}
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k, values[k]); err != nil {
			return &StorageError{Op: "set", Key: k, Err: err}
		}
	}

	if s.quota > 0 {
		var size int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv").Scan(&size); err != nil {
			return &StorageError{Op: "set", Err: err}
		}
		if size > s.quota {
			return &StorageError{Op: "set", Key: keys[0], Err: fmt.Errorf("%w: %d > %d bytes", ErrQuotaExceeded, size, s.quota)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	logging.StoreDebug("wrote %d keys to %s", len(keys), s.path)
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
			return &StorageError{Op: "remove", Key: k, Err: err}
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
