package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// SQLiteStore is the on-disk long-term Store, using a connection and
// transaction idiom similar to a sqlitevec backend but storing
// MemoryRecords with an FTS5 shadow table for keyword search instead of
// an embedding column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at
// path. path may be ":memory:" for an ephemeral, still fully
// SQL/FTS5-backed store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			accessed_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_kind ON memory_records(kind)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_records_fts USING fts5(
			id UNINDEXED, title, content, content='memory_records', content_rowid='rowid'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory: init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, record agentmodel.MemoryRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin put transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_records (id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, title=excluded.title, content=excluded.content, metadata=excluded.metadata,
			updated_at=excluded.updated_at, accessed_at=excluded.accessed_at, access_count=excluded.access_count
	`, record.ID, string(record.Type), record.Title, record.Content, string(metadata),
		record.CreatedAt, record.UpdatedAt, record.AccessedAt, record.AccessCount)
	if err != nil {
		return fmt.Errorf("memory: upsert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_records_fts WHERE id = ?`, record.ID); err != nil {
		return fmt.Errorf("memory: clear fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_records_fts (id, title, content) VALUES (?, ?, ?)`,
		record.ID, record.Title, record.Content); err != nil {
		return fmt.Errorf("memory: index fts row: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (agentmodel.MemoryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agentmodel.MemoryRecord{}, false, nil
	}
	if err != nil {
		return agentmodel.MemoryRecord{}, false, err
	}
	return record, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete record: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_records_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: delete fts row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) ByKind(ctx context.Context, kind agentmodel.MemoryKind) ([]agentmodel.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("memory: query by kind: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ByTag(ctx context.Context, tag string) ([]agentmodel.MemoryRecord, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []agentmodel.MemoryRecord
	for _, r := range all {
		for _, t := range r.Metadata.Tags {
			if t == tag {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *SQLiteStore) Keyword(ctx context.Context, query string, limit int) ([]agentmodel.MemoryRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.kind, m.title, m.content, m.metadata, m.created_at, m.updated_at, m.accessed_at, m.access_count
		FROM memory_records_fts f
		JOIN memory_records m ON m.id = f.id
		WHERE memory_records_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: fts search: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ftsQuery escapes a free-text query into an FTS5 MATCH expression,
// treating it as an OR of its whitespace-separated terms so partial
// overlap still ranks rather than requiring every term.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " OR ")
}

func (s *SQLiteStore) All(ctx context.Context) ([]agentmodel.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, metadata, created_at, updated_at, accessed_at, access_count
		FROM memory_records`)
	if err != nil {
		return nil, fmt.Errorf("memory: query all: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (agentmodel.MemoryRecord, error) {
	var r agentmodel.MemoryRecord
	var kind, metadataJSON string
	var createdAt, updatedAt, accessedAt time.Time

	if err := row.Scan(&r.ID, &kind, &r.Title, &r.Content, &metadataJSON, &createdAt, &updatedAt, &accessedAt, &r.AccessCount); err != nil {
		return r, err
	}
	r.Type = agentmodel.MemoryKind(kind)
	r.CreatedAt, r.UpdatedAt, r.AccessedAt = createdAt, updatedAt, accessedAt
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
			return r, fmt.Errorf("memory: unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]agentmodel.MemoryRecord, error) {
	var out []agentmodel.MemoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
