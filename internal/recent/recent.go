// Package recent keeps a short, newest-first list of a user's recent tool activity.
package recent

import (
	"context"
	"sync"
	"time"
)

const (
	// MaxEntries is the number of entries kept per user.
	MaxEntries = 10
	// TTL is how long an idle list survives.
	TTL = 30 * 24 * time.Hour
)

// Entry is one processed file.
type Entry struct {
	FileName  string    `json:"file_name"`
	ToolName  string    `json:"tool_name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a per-user capped list. Implementations must be safe for concurrent use.
type Store interface {
	Push(ctx context.Context, userID string, e Entry) error
	List(ctx context.Context, userID string) ([]Entry, error)
	Clear(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Push(_ context.Context, userID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]Entry{e}, m.entries[userID]...)
	if len(list) > MaxEntries {
		list = list[:MaxEntries]
	}
	m.entries[userID] = list
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries[userID]))
	copy(out, m.entries[userID])
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
