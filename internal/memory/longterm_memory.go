package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// ErrRecordNotFound is returned by Get/Delete when no record matches
// the given id, across all Store implementations.
var ErrRecordNotFound = errors.New("memory: record not found")

// InMemoryStore is a Store implementation backed by a plain map,
// following a general interface-plus-in-memory-implementation
// convention; used for tests and for runs with persistence disabled.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]agentmodel.MemoryRecord
}

// NewInMemoryStore builds an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]agentmodel.MemoryRecord)}
}

func (s *InMemoryStore) Put(_ context.Context, record agentmodel.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (agentmodel.MemoryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) ByKind(_ context.Context, kind agentmodel.MemoryKind) ([]agentmodel.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agentmodel.MemoryRecord
	for _, r := range s.records {
		if r.Type == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ByTag(_ context.Context, tag string) ([]agentmodel.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agentmodel.MemoryRecord
	for _, r := range s.records {
		for _, t := range r.Metadata.Tags {
			if t == tag {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) Keyword(_ context.Context, query string, limit int) ([]agentmodel.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []agentmodel.MemoryRecord
	for _, r := range s.records {
		if strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.Content), q) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]agentmodel.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentmodel.MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
