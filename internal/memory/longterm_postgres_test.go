package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func setupMockPostgres(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memory_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_memory_records_kind").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_memory_records_tags").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_memory_records_search").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStoreFromDB(db)
	if err != nil {
		t.Fatalf("NewPostgresStoreFromDB: %v", err)
	}
	return mock, store
}

func TestPostgresStore_PutUpsertsRecord(t *testing.T) {
	mock, store := setupMockPostgres(t)
	now := time.Now()
	record := agentmodel.MemoryRecord{
		ID:        "rec-1",
		Type:      agentmodel.MemoryCustomNote,
		Title:     "note",
		Content:   "body",
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO memory_records").
		WithArgs("rec-1", string(agentmodel.MemoryCustomNote), "note", "body", sqlmock.AnyArg(),
			sqlmock.AnyArg(), now, now, sqlmock.AnyArg(), 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_DeleteReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	mock, store := setupMockPostgres(t)

	mock.ExpectExec("DELETE FROM memory_records").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("want ErrRecordNotFound, got %v", err)
	}
}

func TestPostgresStore_PutPropagatesDatabaseError(t *testing.T) {
	mock, store := setupMockPostgres(t)

	mock.ExpectExec("INSERT INTO memory_records").
		WillReturnError(errors.New("connection refused"))

	err := store.Put(context.Background(), agentmodel.MemoryRecord{ID: "rec-1"})
	if err == nil {
		t.Fatal("want error, got nil")
	}
}
