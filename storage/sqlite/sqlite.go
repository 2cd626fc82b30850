// Package sqlite provides a storage.Storage backed by a single SQLite file
// through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/twentyq/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	ns         TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (ns, key)
);
CREATE INDEX IF NOT EXISTS items_expires_at ON items (expires_at) WHERE expires_at IS NOT NULL;
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// DefaultCleanupInterval is how often OpenWithCleanup purges expired rows.
const DefaultCleanupInterval = 5 * time.Minute

// Storage implements storage.Storage on SQLite.
type Storage struct {
	db  *sql.DB
	now func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Storage{db: db, now: time.Now, stop: make(chan struct{})}, nil
}

// OpenWithCleanup is Open plus a background Purge every interval, stopped by
// Close. Expired rows are otherwise only hidden from reads.
func OpenWithCleanup(ctx context.Context, path string, every time.Duration) (*Storage, error) {
	s, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if every <= 0 {
		every = DefaultCleanupInterval
	}
	go s.sweep(every)
	return s, nil
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		// A failed purge is retried on the next tick.
		_, _ = s.Purge(context.Background())
	}
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	ns := storage.Prefix(storage.Apply(opts...).Namespace)

	var (
		data      []byte
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, expires_at FROM items WHERE ns = ? AND key = ?`,
		ns, key,
	).Scan(&data, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s%s: %w", ns, key, err)
	}

	item := &storage.StorageItem{Data: data, CreatedAt: fromMillis(createdAt)}
	if expiresAt.Valid {
		at := fromMillis(expiresAt.Int64)
		item.ExpiresAt = &at
	}
	if item.IsExpired() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE ns = ? AND key = ?`, ns, key); err != nil {
			return nil, fmt.Errorf("delete expired %s%s: %w", ns, key, err)
		}
		return nil, nil
	}
	return item, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}
	ns := storage.Prefix(options.Namespace)

	now := s.now()
	var expiresAt sql.NullInt64
	if options.TTL != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(now.Add(*options.TTL)), Valid: true}
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO items (ns, key, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (ns, key) DO UPDATE SET
	data = excluded.data,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at`,
		ns, key, data, toMillis(now), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set %s%s: %w", ns, key, err)
	}
	return nil
}

// Keys lists unexpired keys in the given namespace.
func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	ns := storage.Prefix(storage.Apply(opts...).Namespace)

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM items WHERE ns = ? AND (expires_at IS NULL OR expires_at > ?)`,
		ns, toMillis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	ns := storage.Prefix(options.Namespace)

	var err error
	if options.Key != nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM items WHERE ns = ? AND key = ?`, ns, *options.Key)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM items WHERE ns = ?`, ns)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", ns, err)
	}
	return nil
}

// Purge removes every expired row and reports how many were dropped.
func (s *Storage) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the purge loop, if any, and closes the underlying database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.db.Close()
	})
	return err
}

var _ storage.Storage = (*Storage)(nil)
