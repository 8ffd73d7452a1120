package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ctxpack/internal/knowledge"
	"ctxpack/internal/logging"
	"ctxpack/internal/vectorstore"
)

// Store implements knowledge.Storage on top of a SQLite database and a
// chromem-go vector index.
type Store struct {
	db      *DB
	vectors *vectorstore.Index
	logger  *logging.Logger
	now     func() time.Time
}

var _ knowledge.Storage = (*Store)(nil)

// OpenStore opens the database under repoRoot and loads the persisted vector
// index next to it.
func OpenStore(repoRoot string, logger *logging.Logger) (*Store, error) {
	db, err := Open(repoRoot, logger)
	if err != nil {
		return nil, err
	}
	vectors, err := vectorstore.New()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := vectors.Load(db.dir); err != nil {
		logger.Warn("Discarding unreadable vector snapshot", map[string]interface{}{
			"error": err.Error(),
		})
		if vectors, err = vectorstore.New(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db, vectors: vectors, logger: logger, now: time.Now}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Flush persists the vector index.
func (s *Store) Flush() error {
	return s.vectors.Persist(s.db.dir)
}

// Close flushes the vector index and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func (s *Store) count(ctx context.Context, table string) int {
	var n int
	if err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		s.logger.Debug("count failed", map[string]interface{}{"table": table, "error": err.Error()})
		return 0
	}
	return n
}

// Capabilities reports which lookups have data behind them.
func (s *Store) Capabilities() knowledge.Capabilities {
	ctx := context.Background()
	return knowledge.Capabilities{
		GraphMetrics:    s.count(ctx, "graph_metrics") > 0,
		Cochange:        s.count(ctx, "cochange_edges") > 0,
		Embeddings:      s.vectors.Count() > 0,
		PersistentCache: true,
		Ingestion:       s.count(ctx, "ingestion_items") > 0,
		FileState:       s.count(ctx, "file_state") > 0,
	}
}

// GetIndexState returns the recorded index phase with live totals. A database
// that never recorded a phase reports empty.
func (s *Store) GetIndexState(ctx context.Context) (knowledge.IndexState, error) {
	state := knowledge.IndexState{Phase: knowledge.PhaseEmpty}
	var phase, indexedAt string
	err := s.db.conn.QueryRowContext(ctx,
		"SELECT phase, progress, indexed_at FROM index_state WHERE id = 1",
	).Scan(&phase, &state.Progress, &indexedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return state, fmt.Errorf("index state lookup failed: %w", err)
	default:
		state.Phase = knowledge.IndexPhase(phase)
		if state.IndexedAt, err = parseTime(indexedAt); err != nil {
			return state, err
		}
	}
	state.TotalEntities = s.count(ctx, "entities")
	state.TotalPacks = s.count(ctx, "context_packs")
	return state, nil
}

// SetIndexState records the index phase.
func (s *Store) SetIndexState(ctx context.Context, phase knowledge.IndexPhase, progress float64, indexedAt time.Time) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO index_state (id, phase, progress, indexed_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET phase = excluded.phase, progress = excluded.progress, indexed_at = excluded.indexed_at
	`, string(phase), progress, formatTime(indexedAt))
	if err != nil {
		return fmt.Errorf("failed to set index state: %w", err)
	}
	return nil
}

// UpsertEntity stores an entity and, when vec is non-empty, its embedding.
func (s *Store) UpsertEntity(ctx context.Context, e knowledge.Entity, vec []float32) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO entities (id, entity_type, name, path, summary, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Type), e.Name, e.Path, e.Summary, e.Confidence, formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", e.ID, err)
	}
	if len(vec) == 0 {
		return nil
	}
	return s.vectors.Upsert(ctx, e.ID, e.Type, e.Path, vec)
}

// GetEntity returns the entity with id, or nil when it does not exist.
func (s *Store) GetEntity(ctx context.Context, id string) (*knowledge.Entity, error) {
	var e knowledge.Entity
	var et, updatedAt string
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, entity_type, name, path, summary, confidence, updated_at
		FROM entities WHERE id = ?
	`, id).Scan(&e.ID, &et, &e.Name, &e.Path, &e.Summary, &e.Confidence, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entity lookup failed: %w", err)
	}
	e.Type = knowledge.EntityType(et)
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertPack stores a context pack.
func (s *Store) UpsertPack(ctx context.Context, p knowledge.ContextPack) error {
	facts, err := json.Marshal(nonNil(p.KeyFacts))
	if err != nil {
		return err
	}
	files, err := json.Marshal(nonNil(p.RelatedFiles))
	if err != nil {
		return err
	}
	version := p.Version
	if version == 0 {
		version = 1
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO context_packs (
			pack_id, pack_type, target_id, summary, key_facts_json, related_files_json,
			confidence, created_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PackID, string(p.PackType), p.TargetID, p.Summary, string(facts), string(files),
		p.Confidence, formatTime(p.CreatedAt), version)
	if err != nil {
		return fmt.Errorf("failed to upsert pack %s: %w", p.PackID, err)
	}
	return nil
}

// GetContextPacks returns the packs targeting targetID. An empty packType
// matches every type.
func (s *Store) GetContextPacks(ctx context.Context, targetID string, packType knowledge.PackType) ([]knowledge.ContextPack, error) {
	query := `
		SELECT pack_id, pack_type, target_id, summary, key_facts_json, related_files_json,
			confidence, created_at, version
		FROM context_packs WHERE target_id = ?`
	args := []interface{}{targetID}
	if packType != "" {
		query += " AND pack_type = ?"
		args = append(args, string(packType))
	}
	query += " ORDER BY confidence DESC, pack_id"

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pack lookup failed: %w", err)
	}
	defer rows.Close()

	var packs []knowledge.ContextPack
	for rows.Next() {
		var p knowledge.ContextPack
		var pt, facts, files, createdAt string
		if err := rows.Scan(&p.PackID, &pt, &p.TargetID, &p.Summary, &facts, &files,
			&p.Confidence, &createdAt, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan pack: %w", err)
		}
		p.PackType = knowledge.PackType(pt)
		if err := json.Unmarshal([]byte(facts), &p.KeyFacts); err != nil {
			return nil, fmt.Errorf("pack %s has invalid key facts: %w", p.PackID, err)
		}
		if err := json.Unmarshal([]byte(files), &p.RelatedFiles); err != nil {
			return nil, fmt.Errorf("pack %s has invalid related files: %w", p.PackID, err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

// SimilaritySearch delegates to the vector index.
func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, opts knowledge.SimilarityOptions) (knowledge.SimilarityResponse, error) {
	return s.vectors.Search(ctx, vector, opts)
}

// UpsertGraphMetrics replaces graph metrics in one transaction.
func (s *Store) UpsertGraphMetrics(ctx context.Context, metrics []knowledge.GraphMetrics) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO graph_metrics (
				entity_id, entity_type, pagerank, betweenness, closeness, eigenvector, community_id
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range metrics {
			if _, err := stmt.ExecContext(ctx, m.EntityID, string(m.EntityType), m.PageRank,
				m.Betweenness, m.Closeness, m.Eigenvector, m.CommunityID); err != nil {
				return fmt.Errorf("failed to upsert metrics for %s: %w", m.EntityID, err)
			}
		}
		return nil
	})
}

// GetGraphMetrics returns every metrics row for an entity type.
func (s *Store) GetGraphMetrics(ctx context.Context, entityType knowledge.EntityType) ([]knowledge.GraphMetrics, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT entity_id, entity_type, pagerank, betweenness, closeness, eigenvector, community_id
		FROM graph_metrics WHERE entity_type = ?
		ORDER BY entity_id
	`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("graph metrics lookup failed: %w", err)
	}
	defer rows.Close()

	var out []knowledge.GraphMetrics
	for rows.Next() {
		var m knowledge.GraphMetrics
		var et string
		if err := rows.Scan(&m.EntityID, &et, &m.PageRank, &m.Betweenness, &m.Closeness,
			&m.Eigenvector, &m.CommunityID); err != nil {
			return nil, fmt.Errorf("failed to scan graph metrics: %w", err)
		}
		m.EntityType = knowledge.EntityType(et)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertCochangeEdge stores an edge under its sorted endpoint pair.
func (s *Store) UpsertCochangeEdge(ctx context.Context, e knowledge.CochangeEdge) error {
	a, b := e.FileA, e.FileB
	if b < a {
		a, b = b, a
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO cochange_edges (file_a, file_b, strength, change_count)
		VALUES (?, ?, ?, ?)
	`, a, b, e.Strength, e.Count)
	if err != nil {
		return fmt.Errorf("failed to upsert cochange edge: %w", err)
	}
	return nil
}

// GetCochangeEdges returns the edges touching file.
func (s *Store) GetCochangeEdges(ctx context.Context, file string) ([]knowledge.CochangeEdge, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT file_a, file_b, strength, change_count
		FROM cochange_edges WHERE file_a = ? OR file_b = ?
		ORDER BY strength DESC, file_a, file_b
	`, file, file)
	if err != nil {
		return nil, fmt.Errorf("cochange lookup failed: %w", err)
	}
	defer rows.Close()

	var out []knowledge.CochangeEdge
	for rows.Next() {
		var e knowledge.CochangeEdge
		if err := rows.Scan(&e.FileA, &e.FileB, &e.Strength, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan cochange edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertIngestionItem stores a raw observation.
func (s *Store) UpsertIngestionItem(ctx context.Context, item knowledge.IngestionItem) error {
	attrs, err := json.Marshal(item.Attributes)
	if err != nil {
		return err
	}
	if item.Attributes == nil {
		attrs = []byte("{}")
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO ingestion_items (id, kind, path, status, observed_at, attributes_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.Kind, item.Path, item.Status, formatTime(item.ObservedAt), string(attrs))
	if err != nil {
		return fmt.Errorf("failed to upsert ingestion item %s: %w", item.ID, err)
	}
	return nil
}

// GetIngestionItems returns every item of kind, oldest first.
func (s *Store) GetIngestionItems(ctx context.Context, kind string) ([]knowledge.IngestionItem, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, kind, path, status, observed_at, attributes_json
		FROM ingestion_items WHERE kind = ?
		ORDER BY observed_at, id
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("ingestion lookup failed: %w", err)
	}
	defer rows.Close()

	var out []knowledge.IngestionItem
	for rows.Next() {
		var item knowledge.IngestionItem
		var observedAt, attrs string
		if err := rows.Scan(&item.ID, &item.Kind, &item.Path, &item.Status, &observedAt, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion item: %w", err)
		}
		if item.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &item.Attributes); err != nil {
			return nil, fmt.Errorf("ingestion item %s has invalid attributes: %w", item.ID, err)
		}
		if len(item.Attributes) == 0 {
			item.Attributes = nil
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpsertFileState records what the index knows about a file.
func (s *Store) UpsertFileState(ctx context.Context, fs knowledge.FileState) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_state (path, content_hash, modified_at, indexed_at)
		VALUES (?, ?, ?, ?)
	`, fs.Path, fs.ContentHash, formatTime(fs.ModifiedAt), formatTime(fs.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert file state %s: %w", fs.Path, err)
	}
	return nil
}

// GetFileState returns the state of path, or nil when the file is unknown.
func (s *Store) GetFileState(ctx context.Context, path string) (*knowledge.FileState, error) {
	var fs knowledge.FileState
	var modifiedAt, indexedAt string
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT path, content_hash, modified_at, indexed_at FROM file_state WHERE path = ?
	`, path).Scan(&fs.Path, &fs.ContentHash, &modifiedAt, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file state lookup failed: %w", err)
	}
	if fs.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, err
	}
	if fs.IndexedAt, err = parseTime(indexedAt); err != nil {
		return nil, err
	}
	return &fs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
