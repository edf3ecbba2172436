package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// index is the persisted fingerprint -> (size, last access) mapping backing
// the in-memory LRU across sessions.
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	ix := &index{db: db}
	if err := ix.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *index) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS thumbnails (
		key TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);
	`
	if _, err := ix.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create thumbnails table: %w", err)
	}
	return nil
}

// Load iterates stored entries in ascending last-access order, coldest
// first, so replaying into the LRU reproduces the eviction order.
func (ix *index) Load(fn func(key string, size int64) error) error {
	rows, err := ix.db.Query("SELECT key, size FROM thumbnails ORDER BY last_access ASC")
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return fmt.Errorf("failed to scan index row: %w", err)
		}
		if err := fn(key, size); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (ix *index) Put(ctx context.Context, key string, size, at int64) error {
	_, err := ix.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO thumbnails (key, size, last_access) VALUES (?, ?, ?)",
		key, size, at)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	return nil
}

func (ix *index) Touch(ctx context.Context, key string, at int64) error {
	_, err := ix.db.ExecContext(ctx,
		"UPDATE thumbnails SET last_access = ? WHERE key = ?", at, key)
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", key, err)
	}
	return nil
}

func (ix *index) Delete(ctx context.Context, key string) error {
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM thumbnails WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (ix *index) Clear(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM thumbnails"); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

func (ix *index) Close() error {
	return ix.db.Close()
}
