// Package memory implements the three-layer Memory Manager: a bounded
// in-memory session store, a persistent long-term store, and the
// weighted retrieval scoring that ranks records for context assembly.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// summarizeThreshold is the turn count at which SessionStore collapses
// the oldest half of a session's turns into a running summary, rather
// than trimming them outright.
const summarizeThreshold = 200

// estimatedCharsPerToken approximates token count from content length
// when no tokenizer is wired in; good enough for budget truncation.
const estimatedCharsPerToken = 4

// SessionStore holds recent conversation turns per session, bounded by
// summarizeThreshold, using a bounded-deque pattern but replacing a
// drop-oldest trim with real summarization: once a session crosses the
// threshold, the oldest half of its turns are collapsed into one
// summary string and appended to a running summaries list instead of
// being discarded.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*agentmodel.Session
}

// NewSessionStore builds an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*agentmodel.Session)}
}

// Append records one turn for sessionID, creating the session if it
// doesn't exist yet, and summarizing if the turn count crosses
// summarizeThreshold.
func (s *SessionStore) Append(sessionID string, turn agentmodel.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &agentmodel.Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	sess.Turns = append(sess.Turns, turn)

	if len(sess.Turns) >= summarizeThreshold {
		half := len(sess.Turns) / 2
		summary := summarizeTurns(sess.Turns[:half])
		sess.Summaries = append(sess.Summaries, summary)
		sess.Turns = append([]agentmodel.Turn{}, sess.Turns[half:]...)
	}
}

// summarizeTurns collapses a run of turns into one summary line. A
// real deployment would route this through the LLM client; this
// extractive fallback keeps the store dependency-free and deterministic
// for tests, and is what runs when no summarizer client is configured.
func summarizeTurns(turns []agentmodel.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[summary of %d turns] ", len(turns))
	for i, t := range turns {
		if i > 0 {
			b.WriteString(" | ")
		}
		input := truncate(t.UserInput, 80)
		b.WriteString(input)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// Last returns the most recent n turns for sessionID, oldest first.
func (s *SessionStore) Last(sessionID string, n int) []agentmodel.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if n <= 0 || n >= len(sess.Turns) {
		out := make([]agentmodel.Turn, len(sess.Turns))
		copy(out, sess.Turns)
		return out
	}
	start := len(sess.Turns) - n
	out := make([]agentmodel.Turn, n)
	copy(out, sess.Turns[start:])
	return out
}

// Window renders the session's summaries plus recent turns as a single
// context string, truncated to fit an estimated token budget (counting
// whole turns from most recent backward until the budget is spent).
func (s *SessionStore) Window(sessionID string, tokenBudget int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ""
	}

	var parts []string
	for _, summary := range sess.Summaries {
		parts = append(parts, "Summary: "+summary)
	}

	budgetChars := tokenBudget * estimatedCharsPerToken
	used := 0
	for _, p := range parts {
		used += len(p)
	}

	var recent []string
	for i := len(sess.Turns) - 1; i >= 0; i-- {
		t := sess.Turns[i]
		line := fmt.Sprintf("User: %s\nAssistant: %s", t.UserInput, t.Response)
		if budgetChars > 0 && used+len(line) > budgetChars {
			break
		}
		used += len(line)
		recent = append([]string{line}, recent...)
	}

	parts = append(parts, recent...)
	return strings.Join(parts, "\n\n")
}

// Search does a case-insensitive substring scan over a session's turns,
// returning matches most-recent-first.
func (s *SessionStore) Search(sessionID, query string) []agentmodel.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || query == "" {
		return nil
	}
	q := strings.ToLower(query)
	var matches []agentmodel.Turn
	for i := len(sess.Turns) - 1; i >= 0; i-- {
		t := sess.Turns[i]
		if strings.Contains(strings.ToLower(t.UserInput), q) || strings.Contains(strings.ToLower(t.Response), q) {
			matches = append(matches, t)
		}
	}
	return matches
}

// Summarize forces immediate summarization of all of a session's
// current turns, leaving it empty with one new running summary.
func (s *SessionStore) Summarize(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.Turns) == 0 {
		return
	}
	sess.Summaries = append(sess.Summaries, summarizeTurns(sess.Turns))
	sess.Turns = nil
}

// Clear drops all state for sessionID.
func (s *SessionStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Turns returns a copy of every turn currently held for sessionID,
// ignoring summaries, used at session end to persist unpersisted turns
// to the long-term store.
func (s *SessionStore) Turns(ctx context.Context, sessionID string) []agentmodel.Turn {
	_ = ctx
	return s.Last(sessionID, 0)
}
