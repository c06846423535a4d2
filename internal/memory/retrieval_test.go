package memory

import (
	"context"
	"testing"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func TestRetrieverSearchRanksRelevanceRecencyFrequency(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	store.Put(ctx, agentmodel.MemoryRecord{
		ID: "stale", Title: "nginx restart", Content: "restarted nginx after crash",
		AccessedAt: now.Add(-60 * 24 * time.Hour), AccessCount: 1,
	})
	store.Put(ctx, agentmodel.MemoryRecord{
		ID: "fresh", Title: "nginx restart", Content: "restarted nginx after crash",
		AccessedAt: now, AccessCount: 50,
	})
	store.Put(ctx, agentmodel.MemoryRecord{
		ID: "unrelated", Title: "database backup", Content: "ran nightly backup job",
		AccessedAt: now, AccessCount: 50,
	})

	r := NewRetriever(store, func() time.Time { return now })
	results, err := r.Search(ctx, "nginx restart", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 relevant results, got %d", len(results))
	}
	if results[0].Record.ID != "fresh" {
		t.Fatalf("expected fresh record ranked first, got %q", results[0].Record.ID)
	}
}

func TestRetrieverDropsBelowMinimumScore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	store.Put(ctx, agentmodel.MemoryRecord{ID: "a", Title: "unrelated content", Content: "nothing matches here"})

	r := NewRetriever(store, nil)
	results, err := r.Search(ctx, "completely different query", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results above minimum score, got %d", len(results))
	}
}

func TestRetrieverGetRelevantContextRespectsBudget(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()
	for i := 0; i < 20; i++ {
		store.Put(ctx, agentmodel.MemoryRecord{
			ID: string(rune('a' + i)), Title: "incident report",
			Content: "a fairly long description of an incident that happened recently and was resolved",
			AccessedAt: now, AccessCount: 10,
		})
	}

	r := NewRetriever(store, func() time.Time { return now })
	records, err := r.GetRelevantContext(ctx, "incident report", 50)
	if err != nil {
		t.Fatalf("GetRelevantContext() error = %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected at least one record within budget")
	}
	if len(records) >= 20 {
		t.Fatalf("expected budget to bound the result count, got %d", len(records))
	}
}

func TestRecencyScoreDecaysLinearly(t *testing.T) {
	now := time.Now()
	fresh := recencyScore(now, now)
	if fresh != 1 {
		t.Fatalf("expected recency 1 for just-accessed, got %v", fresh)
	}
	stale := recencyScore(now.Add(-recencyWindow), now)
	if stale != 0 {
		t.Fatalf("expected recency 0 at window edge, got %v", stale)
	}
	half := recencyScore(now.Add(-recencyWindow/2), now)
	if half < 0.45 || half > 0.55 {
		t.Fatalf("expected recency ~0.5 at half window, got %v", half)
	}
}

func TestFrequencyScoreCapsAtOne(t *testing.T) {
	if frequencyScore(200) != 1 {
		t.Fatalf("expected frequency score capped at 1")
	}
	if frequencyScore(50) != 0.5 {
		t.Fatalf("expected frequency score 0.5 at half normalizer")
	}
}
