package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // postgres driver, also used for pq.Array

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// PostgresStore is the long-term Store for multi-process deployments,
// using a connection and upsert idiom similar to a pgvector-backed
// store but using a tsvector column for keyword search instead of an
// embedding column, since relevance scoring here is the weighted
// formula in retrieval.go rather than vector similarity.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a Postgres-backed Store over dsn and ensures
// its schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open postgres store: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: ping postgres store: %w", err)
	}
	s := &PostgresStore{db: db, ownsDB: true}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing *sql.DB (e.g. shared with
// other subsystems) without taking ownership of its lifecycle.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, ownsDB: false}
	if err := s.init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			search_vector TSVECTOR GENERATED ALWAYS AS (
				setweight(to_tsvector('english', coalesce(title, '')), 'A') ||
				setweight(to_tsvector('english', coalesce(content, '')), 'B')
			) STORED
		)
	`)
	if err != nil {
		return fmt.Errorf("memory: create memory_records table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_records_kind ON memory_records(kind)`); err != nil {
		return fmt.Errorf("memory: create kind index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_records_tags ON memory_records USING GIN(tags)`); err != nil {
		return fmt.Errorf("memory: create tags index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_memory_records_search ON memory_records USING GIN(search_vector)`); err != nil {
		return fmt.Errorf("memory: create search index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, record agentmodel.MemoryRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, kind, title, content, metadata, tags, created_at, updated_at, accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at,
			accessed_at = EXCLUDED.accessed_at,
			access_count = EXCLUDED.access_count
	`, record.ID, string(record.Type), record.Title, record.Content, string(metadata),
		pq.Array(record.Metadata.Tags), record.CreatedAt, record.UpdatedAt, record.AccessedAt, record.AccessCount)
	if err != nil {
		return fmt.Errorf("memory: upsert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (agentmodel.MemoryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records WHERE id = $1`, id)
	record, err := scanPGRecord(row)
	if err == sql.ErrNoRows {
		return agentmodel.MemoryRecord{}, false, nil
	}
	if err != nil {
		return agentmodel.MemoryRecord{}, false, err
	}
	return record, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("memory: delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) ByKind(ctx context.Context, kind agentmodel.MemoryKind) ([]agentmodel.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("memory: query by kind: %w", err)
	}
	defer rows.Close()
	return scanPGRecords(rows)
}

func (s *PostgresStore) ByTag(ctx context.Context, tag string) ([]agentmodel.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records WHERE $1 = ANY(tags)`, tag)
	if err != nil {
		return nil, fmt.Errorf("memory: query by tag: %w", err)
	}
	defer rows.Close()
	return scanPGRecords(rows)
}

func (s *PostgresStore) Keyword(ctx context.Context, query string, limit int) ([]agentmodel.MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records
		WHERE search_vector @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank_cd(search_vector, plainto_tsquery('english', $1)) DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: keyword search: %w", err)
	}
	defer rows.Close()
	return scanPGRecords(rows)
}

func (s *PostgresStore) All(ctx context.Context) ([]agentmodel.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records`)
	if err != nil {
		return nil, fmt.Errorf("memory: query all: %w", err)
	}
	defer rows.Close()
	return scanPGRecords(rows)
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func scanPGRecord(row rowScanner) (agentmodel.MemoryRecord, error) {
	var r agentmodel.MemoryRecord
	var kind, metadataJSON string

	if err := row.Scan(&r.ID, &kind, &r.Title, &r.Content, &metadataJSON, &r.CreatedAt, &r.UpdatedAt, &r.AccessedAt, &r.AccessCount); err != nil {
		return r, err
	}
	r.Type = agentmodel.MemoryKind(kind)
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
			return r, fmt.Errorf("memory: unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

func scanPGRecords(rows *sql.Rows) ([]agentmodel.MemoryRecord, error) {
	var out []agentmodel.MemoryRecord
	for rows.Next() {
		r, err := scanPGRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
