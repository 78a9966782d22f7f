package auth

import (
	"context"
	"sync"
	"time"

	"quarantine-drop/internal/errs"
)

// SessionRecord is the server-side half of a login.
type SessionRecord struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore holds live sessions. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	Put(ctx context.Context, rec SessionRecord) error
	// Get returns errs.ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (SessionRecord, error)
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
	Len() int
}

// MemoryStore is a process-local SessionStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]SessionRecord), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	if !ok || !m.now().Before(rec.ExpiresAt) {
		return SessionRecord{}, errs.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len counts live sessions; expired records awaiting eviction are excluded.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, rec := range m.sessions {
		if now.Before(rec.ExpiresAt) {
			n++
		}
	}
	return n
}

// Run evicts expired sessions every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, rec := range m.sessions {
		if !now.Before(rec.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
