package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions with optimistic locking.
type Store interface {
	// Create stores a new session with Version 1.
	// Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, s *Session) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update persists s if its Version matches the stored one, then increments it.
	// Returns ErrVersionConflict on mismatch and ErrNotFound if absent.
	Update(ctx context.Context, s *Session) error

	// Close releases the store.
	Close() error
}

// MemoryStore keeps sessions in a map. Used for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Version = 1
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
