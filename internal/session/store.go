package session

import (
	"context"
	"sync"
)

// TokenStore is the durable home of the persisted Session. Implementations:
// Memory (tests), File (encrypted at rest) and Redis (server-side
// embeddings). Load reporting an error is treated by the Manager as "no
// session", never as a hard failure, so a locked or unavailable store
// degrades to unauthenticated.
type TokenStore interface {
	Load(ctx context.Context) (Session, bool, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	s   Session
	set bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(ctx context.Context) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, m.set, nil
}

func (m *MemoryStore) Save(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	m.set = true
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = Session{}
	m.set = false
	return nil
}
