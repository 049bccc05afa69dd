package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Each id has its own mutex so
// different users never contend.
type MemoryStore struct {
	patchOps

	mu      sync.Mutex
	entries map[string]*memoryEntry
	timeout time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore creates a store with the given inactivity timeout.
func NewMemoryStore(timeout time.Duration) *MemoryStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		timeout: timeout,
		now:     time.Now,
	}
	s.patchOps = patchOps{a: s}
	return s
}

func (m *MemoryStore) entry(id string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &memoryEntry{}
		m.entries[id] = e
	}
	return e
}

// Get returns the session for id, creating it if absent.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		e.session = New(id, m.now())
	}
	return e.session.Clone(), nil
}

// GetOrReset returns the session for id, reinitializing it if idle.
func (m *MemoryStore) GetOrReset(_ context.Context, id string) (*Session, bool, error) {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, discarded := resetIfIdle(e.session, id, m.now(), m.timeout)
	e.session = s
	return s.Clone(), discarded, nil
}

// Apply performs the patch under the id's lock.
func (m *MemoryStore) Apply(_ context.Context, id string, patch Patch) (*Session, error) {
	e := m.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := m.now()
	if e.session == nil {
		e.session = New(id, now)
	}
	patch.Apply(e.session, now)
	return e.session.Clone(), nil
}

// Len returns the number of tracked sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
