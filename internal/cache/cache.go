// Package cache implements a checksum-aware key/value cache for expensive
// provider lookups: a bounded in-memory LRU in front of a SQLite table.
// Invalidation is explicit via checksum comparison, not just TTL.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long cache entries live when the caller does not care.
const DefaultTTL = 30 * 24 * time.Hour

// minPersistTTL: entries with a shorter lifetime stay memory-only; writing
// them to the database costs more than the miss they would save.
const minPersistTTL = 4 * time.Hour

const memCacheSize = 500

// Store is the cache store. Writes via SetAsync are fire-and-forget: they
// never block the caller and failures are logged, not surfaced.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mem    *lru
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a cache store on the given database handle and creates its
// schema if missing.
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With(slog.String("component", "cache")),
		mem:    newLRU(memCacheSize),
	}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			data BLOB
		)`)
	if err != nil {
		return fmt.Errorf("creating cache table: %w", err)
	}
	return nil
}

// Get returns the cached value for key. A stored checksum differing from
// the given one is a miss: the stored entry is stale by definition.
func (s *Store) Get(ctx context.Context, key, checksum string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	now := time.Now().Unix()

	if e, ok := s.mem.get(key); ok && e.expires >= now && (checksum == "" || e.checksum == checksum) {
		return e.data, true
	}

	var (
		data      []byte
		expires   int64
		storedSum string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires, checksum FROM cache WHERE key = ?`, key).
		Scan(&data, &expires, &storedSum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if expires < now || (checksum != "" && storedSum != checksum) {
		return nil, false
	}
	s.mem.set(key, entry{data: data, checksum: storedSum, expires: expires})
	return data, true
}

// Set stores a value synchronously. Entries with a TTL below the persist
// threshold are kept in memory only.
func (s *Store) Set(ctx context.Context, key string, data []byte, checksum string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expires := time.Now().Add(ttl).Unix()
	s.mem.set(key, entry{data: data, checksum: checksum, expires: expires})
	if ttl < minPersistTTL {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (key, expires, checksum, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET expires = excluded.expires,
			checksum = excluded.checksum, data = excluded.data`,
		key, expires, checksum, data)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// SetAsync stores a value in a detached background task. The caller never
// waits for the write and never sees its failure; a dropped write only
// costs a cache miss next time.
func (s *Store) SetAsync(key string, data []byte, checksum string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Set(ctx, key, data, checksum, DefaultTTL); err != nil {
			s.logger.Warn("async cache write failed", "key", key, "error", err)
		}
	}()
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mem.delete(key)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries, or only those whose key contains filter.
func (s *Store) Clear(ctx context.Context, filter string) error {
	s.mem.reset()
	var err error
	if filter == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache WHERE key LIKE ?`, "%"+filter+"%")
	}
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Cleanup purges expired rows.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mem.reset()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache WHERE expires < ?`, time.Now().Unix()); err != nil {
		return fmt.Errorf("purging expired cache entries: %w", err)
	}
	return nil
}

// StartCleanup runs Cleanup on the given interval until the context is
// canceled. Call in a goroutine.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Warn("cache cleanup failed", "error", err)
			}
		}
	}
}

// Close waits for in-flight async writes to settle. New async writes are
// dropped after Close.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
