package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"ctxpack/internal/knowledge"
)

// RecordEpisode appends an answered query to the episode log. A missing id is
// generated.
func (s *Store) RecordEpisode(ctx context.Context, ep knowledge.Episode) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = s.now()
	}
	ids, err := json.Marshal(nonNil(ep.PackIDs))
	if err != nil {
		return err
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO episodes (
			id, intent, depth, pack_ids_json, confidence, gap_count,
			no_results, cache_hit, latency_ms, feedback_token, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.ID, ep.Intent, string(ep.Depth), string(ids), ep.Confidence, ep.GapCount,
		boolToInt(ep.NoResults), boolToInt(ep.CacheHit), ep.LatencyMs, ep.FeedbackHint,
		formatTime(ep.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record episode: %w", err)
	}
	return nil
}

// RecentEpisodes returns up to limit episodes, newest first.
func (s *Store) RecentEpisodes(ctx context.Context, limit int) ([]knowledge.Episode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, intent, depth, pack_ids_json, confidence, gap_count,
			no_results, cache_hit, latency_ms, feedback_token, created_at
		FROM episodes ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("episode lookup failed: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Episode
	for rows.Next() {
		var ep knowledge.Episode
		var depth, ids, createdAt string
		var noResults, cacheHit int
		if err := rows.Scan(&ep.ID, &ep.Intent, &depth, &ids, &ep.Confidence, &ep.GapCount,
			&noResults, &cacheHit, &ep.LatencyMs, &ep.FeedbackHint, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		ep.Depth = knowledge.Depth(depth)
		ep.NoResults = noResults != 0
		ep.CacheHit = cacheHit != 0
		if err := json.Unmarshal([]byte(ids), &ep.PackIDs); err != nil {
			return nil, fmt.Errorf("episode %s has invalid pack ids: %w", ep.ID, err)
		}
		if ep.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// AppendEvidence writes one evidence ledger entry. A missing id is generated.
func (s *Store) AppendEvidence(ctx context.Context, entry knowledge.EvidenceEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO evidence_ledger (id, kind, subject, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.Kind, entry.Subject, entry.Detail, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append evidence: %w", err)
	}
	return nil
}

// Evidence returns ledger entries of kind, oldest first. An empty kind returns
// every entry.
func (s *Store) Evidence(ctx context.Context, kind string) ([]knowledge.EvidenceEntry, error) {
	query := "SELECT id, kind, subject, detail, created_at FROM evidence_ledger"
	var args []interface{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("evidence lookup failed: %w", err)
	}
	defer rows.Close()

	var out []knowledge.EvidenceEntry
	for rows.Next() {
		var e knowledge.EvidenceEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
