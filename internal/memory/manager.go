package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// defaultContextTokenBudget bounds the combined session+retrieval
// context Manager.GetContext renders when the caller doesn't specify one.
const defaultContextTokenBudget = 2000

// Manager is the three-layer Memory Manager's facade: a bounded
// session store, a pluggable long-term Store, and the weighted
// Retriever over it, combined behind GetContext for the Agent Loop.
type Manager struct {
	sessions *SessionStore
	store    Store
	retrieve *Retriever
}

// NewManager builds a Manager over a fresh SessionStore and the given
// long-term Store.
func NewManager(store Store) *Manager {
	return &Manager{
		sessions: NewSessionStore(),
		store:    store,
		retrieve: NewRetriever(store, nil),
	}
}

// RecordTurn appends a turn to the session store.
func (m *Manager) RecordTurn(sessionID string, turn agentmodel.Turn) {
	m.sessions.Append(sessionID, turn)
}

// GetContext is the single facade the Agent Loop calls before each LLM
// invocation: session history plus retrieved long-term records
// relevant to query, rendered as one string.
func (m *Manager) GetContext(ctx context.Context, sessionID, query string) (string, error) {
	window := m.sessions.Window(sessionID, defaultContextTokenBudget/2)

	records, err := m.retrieve.GetRelevantContext(ctx, query, defaultContextTokenBudget/2)
	if err != nil {
		return "", fmt.Errorf("memory: get relevant context: %w", err)
	}

	var b strings.Builder
	if window != "" {
		b.WriteString(window)
	}
	for _, r := range records {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(renderRecord(r))
	}
	return b.String(), nil
}

// Remember persists a record to the long-term store, stamping
// CreatedAt/UpdatedAt/AccessedAt if unset and generating an ID if empty.
func (m *Manager) Remember(ctx context.Context, record agentmodel.MemoryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.AccessedAt.IsZero() {
		record.AccessedAt = now
	}
	return m.store.Put(ctx, record)
}

// EndSession persists every unpersisted turn of sessionID to the
// long-term store as a CONVERSATION_TURN record, then clears the
// session's in-memory state.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	turns := m.sessions.Turns(ctx, sessionID)
	for _, t := range turns {
		record := agentmodel.MemoryRecord{
			Type:    agentmodel.MemoryConversationTurn,
			Title:   truncate(t.UserInput, 80),
			Content: fmt.Sprintf("User: %s\nAssistant: %s", t.UserInput, t.Response),
		}
		if err := m.Remember(ctx, record); err != nil {
			return fmt.Errorf("memory: persist turn at session end: %w", err)
		}
	}
	m.sessions.Clear(sessionID)
	return nil
}

// Search exposes the Retriever's ranked search directly, for callers
// that want scores rather than the rendered context string.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]Scored, error) {
	return m.retrieve.Search(ctx, query, limit)
}

// Close releases the underlying long-term store.
func (m *Manager) Close() error {
	return m.store.Close()
}
