package memory

import (
	"context"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// Store is the long-term memory backend's interface: persistent
// key/value of id to MemoryRecord, with secondary access by kind, by
// tag, and by keyword. Implementations: an in-memory variant for tests
// (longterm_memory.go), a modernc.org/sqlite + FTS5 variant for
// single-process deployments (longterm_sqlite.go), and a
// github.com/lib/pq variant for multi-process deployments
// (longterm_postgres.go). All three share this interface so the
// Manager facade never branches on backend.
type Store interface {
	Put(ctx context.Context, record agentmodel.MemoryRecord) error
	Get(ctx context.Context, id string) (agentmodel.MemoryRecord, bool, error)
	Delete(ctx context.Context, id string) error
	ByKind(ctx context.Context, kind agentmodel.MemoryKind) ([]agentmodel.MemoryRecord, error)
	ByTag(ctx context.Context, tag string) ([]agentmodel.MemoryRecord, error)
	Keyword(ctx context.Context, query string, limit int) ([]agentmodel.MemoryRecord, error)
	All(ctx context.Context) ([]agentmodel.MemoryRecord, error)
	Close() error
}
