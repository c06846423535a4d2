package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func TestInMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	record := agentmodel.MemoryRecord{ID: "r1", Type: agentmodel.MemoryCustomNote, Title: "note", Content: "body"}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if got.Content != "body" {
		t.Fatalf("expected content %q, got %q", "body", got.Content)
	}

	if err := store.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "r1"); ok {
		t.Fatalf("expected record gone after Delete")
	}
	if err := store.Delete(ctx, "r1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestInMemoryStoreByKindAndTag(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	store.Put(ctx, agentmodel.MemoryRecord{ID: "a", Type: agentmodel.MemorySolvedIncident, Metadata: agentmodel.MemoryMetadata{Tags: []string{"nginx"}}})
	store.Put(ctx, agentmodel.MemoryRecord{ID: "b", Type: agentmodel.MemoryCustomNote, Metadata: agentmodel.MemoryMetadata{Tags: []string{"nginx", "disk"}}})

	byKind, err := store.ByKind(ctx, agentmodel.MemorySolvedIncident)
	if err != nil || len(byKind) != 1 {
		t.Fatalf("ByKind() = %v, %v", byKind, err)
	}

	byTag, err := store.ByTag(ctx, "disk")
	if err != nil || len(byTag) != 1 || byTag[0].ID != "b" {
		t.Fatalf("ByTag() = %v, %v", byTag, err)
	}
}

func TestInMemoryStoreKeyword(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	store.Put(ctx, agentmodel.MemoryRecord{ID: "a", Title: "Disk cleanup", Content: "freed 10GB"})
	store.Put(ctx, agentmodel.MemoryRecord{ID: "b", Title: "Network outage", Content: "restored link"})

	results, err := store.Keyword(ctx, "disk", 10)
	if err != nil || len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("Keyword() = %v, %v", results, err)
	}
}

func TestInMemoryStoreTouch(t *testing.T) {
	record := agentmodel.MemoryRecord{ID: "a"}
	now := time.Now()
	record.Touch(now)

	if record.AccessCount != 1 || !record.AccessedAt.Equal(now) {
		t.Fatalf("Touch() did not update AccessCount/AccessedAt correctly")
	}
}
