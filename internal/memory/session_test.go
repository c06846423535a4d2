package memory

import (
	"context"
	"testing"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func TestSessionStoreAppendAndLast(t *testing.T) {
	s := NewSessionStore()
	s.Append("sess1", agentmodel.Turn{UserInput: "hello", Response: "hi", Timestamp: time.Now()})
	s.Append("sess1", agentmodel.Turn{UserInput: "again", Response: "yo", Timestamp: time.Now()})

	turns := s.Last("sess1", 1)
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].UserInput != "again" {
		t.Fatalf("expected most recent turn, got %q", turns[0].UserInput)
	}
}

func TestSessionStoreSummarizesOverThreshold(t *testing.T) {
	s := NewSessionStore()
	for i := 0; i < summarizeThreshold+1; i++ {
		s.Append("sess1", agentmodel.Turn{UserInput: "msg", Response: "ok"})
	}

	turns := s.Last("sess1", 0)
	if len(turns) >= summarizeThreshold+1 {
		t.Fatalf("expected summarization to shrink turns, got %d", len(turns))
	}

	sess := s.sessions["sess1"]
	if len(sess.Summaries) == 0 {
		t.Fatalf("expected at least one summary after crossing threshold")
	}
}

func TestSessionStoreWindowRespectsBudget(t *testing.T) {
	s := NewSessionStore()
	for i := 0; i < 50; i++ {
		s.Append("sess1", agentmodel.Turn{UserInput: "a long message repeated many times over", Response: "a long response repeated many times over"})
	}

	window := s.Window("sess1", 10)
	if len(window) == 0 {
		t.Fatalf("expected non-empty window")
	}
	if len(window) > 10*estimatedCharsPerToken*3 {
		t.Fatalf("window far exceeds budget: %d chars", len(window))
	}
}

func TestSessionStoreSearch(t *testing.T) {
	s := NewSessionStore()
	s.Append("sess1", agentmodel.Turn{UserInput: "restart nginx", Response: "done"})
	s.Append("sess1", agentmodel.Turn{UserInput: "check disk space", Response: "50% free"})

	matches := s.Search("sess1", "nginx")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestSessionStoreSummarizeForces(t *testing.T) {
	s := NewSessionStore()
	s.Append("sess1", agentmodel.Turn{UserInput: "one", Response: "two"})
	s.Summarize("sess1")

	if len(s.Last("sess1", 0)) != 0 {
		t.Fatalf("expected turns cleared after forced summarize")
	}
	if len(s.sessions["sess1"].Summaries) != 1 {
		t.Fatalf("expected exactly 1 summary")
	}
}

func TestSessionStoreClear(t *testing.T) {
	s := NewSessionStore()
	s.Append("sess1", agentmodel.Turn{UserInput: "one", Response: "two"})
	s.Clear("sess1")

	if len(s.Turns(context.Background(), "sess1")) != 0 {
		t.Fatalf("expected no turns after Clear")
	}
}
