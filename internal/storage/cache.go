package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ctxpack/internal/knowledge"
)

// GetCachedQuery returns the persisted cache record for key, or nil on a miss.
// Expiry is decided by the caller from CreatedAt.
func (s *Store) GetCachedQuery(ctx context.Context, key string) (*knowledge.CacheRecord, error) {
	var rec knowledge.CacheRecord
	var createdAt string
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT key, payload, created_at FROM query_cache WHERE key = ?
	`, key).Scan(&rec.Key, &rec.Payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cache lookup failed: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertCachedQuery replaces the record stored under rec.Key.
func (s *Store) UpsertCachedQuery(ctx context.Context, rec knowledge.CacheRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_cache (key, payload, created_at) VALUES (?, ?, ?)
	`, rec.Key, rec.Payload, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}
	return nil
}

// PruneCachedQueries deletes records older than maxAge, then the oldest
// records beyond maxEntries. Non-positive bounds are ignored. It returns the
// number of deleted records.
func (s *Store) PruneCachedQueries(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error) {
	var removed int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if maxAge > 0 {
			cutoff := formatTime(s.now().Add(-maxAge))
			res, err := tx.ExecContext(ctx, "DELETE FROM query_cache WHERE created_at < ?", cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune expired cache entries: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if maxEntries > 0 {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM query_cache WHERE key NOT IN (
					SELECT key FROM query_cache ORDER BY created_at DESC, key LIMIT ?
				)
			`, maxEntries)
			if err != nil {
				return fmt.Errorf("failed to prune excess cache entries: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Debug("Pruned query cache", map[string]interface{}{
			"removed": removed,
		})
	}
	return int(removed), nil
}

// CachedQueryCount returns the number of persisted cache records.
func (s *Store) CachedQueryCount(ctx context.Context) int {
	return s.count(ctx, "query_cache")
}
