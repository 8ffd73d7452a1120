package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		steps := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createEntitiesTable,
			createContextPacksTable,
			createGraphTables,
			createIndexStateTables,
			createIngestionTable,
			createQueryCacheTable,
			createLedgerTables,
		}
		for _, step := range steps {
			if err := step(tx); err != nil {
				return err
			}
		}
		return setSchemaVersion(tx, currentSchemaVersion)
	})
}

// runMigrations brings an existing database up to currentSchemaVersion
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version == currentSchemaVersion {
		return nil
	}
	if version == 0 {
		return db.initializeSchema()
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

func createEntitiesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("failed to create entities table: %w", err)
	}
	_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path)")
	return err
}

func createContextPacksTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS context_packs (
			pack_id TEXT PRIMARY KEY,
			pack_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			key_facts_json TEXT NOT NULL DEFAULT '[]',
			related_files_json TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL,
			created_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)
	`); err != nil {
		return fmt.Errorf("failed to create context_packs table: %w", err)
	}
	_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_context_packs_target ON context_packs(target_id, pack_type)")
	return err
}

func createGraphTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS graph_metrics (
			entity_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			pagerank REAL NOT NULL DEFAULT 0,
			betweenness REAL NOT NULL DEFAULT 0,
			closeness REAL NOT NULL DEFAULT 0,
			eigenvector REAL NOT NULL DEFAULT 0,
			community_id INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (entity_type, entity_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create graph_metrics table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cochange_edges (
			file_a TEXT NOT NULL,
			file_b TEXT NOT NULL,
			strength REAL NOT NULL,
			change_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (file_a, file_b)
		)
	`); err != nil {
		return fmt.Errorf("failed to create cochange_edges table: %w", err)
	}
	_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_cochange_file_b ON cochange_edges(file_b)")
	return err
}

func createIndexStateTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS index_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			phase TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			indexed_at TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("failed to create index_state table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file_state (
			path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			modified_at TEXT NOT NULL,
			indexed_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create file_state table: %w", err)
	}
	return nil
}

func createIngestionTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS ingestion_items (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			observed_at TEXT NOT NULL,
			attributes_json TEXT NOT NULL DEFAULT '{}'
		)
	`); err != nil {
		return fmt.Errorf("failed to create ingestion_items table: %w", err)
	}
	_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_ingestion_kind ON ingestion_items(kind)")
	return err
}

func createQueryCacheTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS query_cache (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create query_cache table: %w", err)
	}
	_, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_query_cache_created_at ON query_cache(created_at)")
	return err
}

func createLedgerTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			depth TEXT NOT NULL,
			pack_ids_json TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL,
			gap_count INTEGER NOT NULL DEFAULT 0,
			no_results INTEGER NOT NULL DEFAULT 0,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			feedback_token TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create episodes table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS evidence_ledger (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create evidence_ledger table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_episodes_created_at ON episodes(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_evidence_kind ON evidence_ledger(kind, created_at)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
