package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the dedup window to SQLite. Suitable for
// single-process deployments that need the window to survive restarts.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore creates a SQLite-backed store. The path should be a file
// path (e.g. "./dedup.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dedup: open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dedup_ids (
			id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: create table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dedup_expires
		ON dedup_ids(expires_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// MarkIfNew implements Store. A single upsert keeps check-and-set atomic:
// the insert succeeds when the id is absent or its previous window has
// expired.
func (s *SQLiteStore) MarkIfNew(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_ids (id, expires_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET expires_at = excluded.expires_at
		WHERE dedup_ids.expires_at <= ?
	`, id, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("dedup: mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup: mark: %w", err)
	}
	return n > 0, nil
}

// Seen implements Store.
func (s *SQLiteStore) Seen(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM dedup_ids WHERE id = ?`, id).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup: seen: %w", err)
	}
	return expiresAt > time.Now().UnixMilli(), nil
}

// Forget implements Store.
func (s *SQLiteStore) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_ids WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dedup: forget: %w", err)
	}
	return nil
}

// Sweep removes expired rows. Call periodically from a maintenance loop;
// correctness does not depend on it.
func (s *SQLiteStore) Sweep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_ids WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("dedup: sweep: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
