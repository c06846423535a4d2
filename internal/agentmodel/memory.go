package agentmodel

import "time"

// MemoryKind tags what a MemoryRecord represents.
type MemoryKind string

const (
	MemoryConversationTurn MemoryKind = "conversation_turn"
	MemorySessionSummary   MemoryKind = "session_summary"
	MemorySolvedIncident   MemoryKind = "solved_incident"
	MemoryLearnedPattern   MemoryKind = "learned_pattern"
	MemoryUserPreference   MemoryKind = "user_preference"
	MemoryDeviceConfig     MemoryKind = "device_config"
	MemoryWorkflowTemplate MemoryKind = "workflow_template"
	MemoryCustomNote       MemoryKind = "custom_note"
)

// MemoryMetadata is the free-form metadata carried alongside a
// MemoryRecord's content.
type MemoryMetadata struct {
	Tags       []string
	Confidence float64
	Source     string
	RelatedIDs []string
	Expiry     *time.Time
	Custom     map[string]any
}

// MemoryRecord is a single unit of long-term memory. Records are
// immutable except for content updates (which bump UpdatedAt) and
// accesses (which bump AccessedAt and AccessCount).
type MemoryRecord struct {
	ID          string
	Type        MemoryKind
	Title       string
	Content     string
	Metadata    MemoryMetadata
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AccessedAt  time.Time
	AccessCount int
}

// Touch bumps AccessedAt and AccessCount, as happens on every retrieval.
func (m *MemoryRecord) Touch(now time.Time) {
	m.AccessedAt = now
	m.AccessCount++
}

// Turn is one round trip within a Session: a user input, the assistant's
// response, which tools were used, and whether it succeeded.
type Turn struct {
	UserInput string
	Response  string
	ToolsUsed []string
	Timestamp time.Time
	Success   bool
}

// Session is the bounded, possibly-summarized conversation window kept
// for one user session. Turns holds the live (unsummarized) tail;
// Summaries accumulates one string each time the deque is compacted.
type Session struct {
	ID        string
	Turns     []Turn
	Summaries []string
}
