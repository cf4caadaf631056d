package credstore

import (
	"context"
	"sync"
	"time"
)

const day = 24 * time.Hour

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore keeps entries in process memory. It is used by tests and
// as the fallback when no durable medium is configured.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	now         func() time.Time
	unavailable bool
}

// Ensure MemoryStore implements GroupStore
var _ GroupStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// SetAvailable simulates a disabled or sandboxed medium. While
// unavailable, writes are dropped and reads come back absent.
func (m *MemoryStore) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !available
}

func (m *MemoryStore) Set(_ context.Context, key, value string, expiryDays int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, expiryDays)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return "", false
	}
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *MemoryStore) Remove(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return
	}
	delete(m.entries, key)
}

// SetGroup writes all entries under one lock.
func (m *MemoryStore) SetGroup(_ context.Context, entries []Entry, expiryDays int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.setLocked(e.Key, e.Value, expiryDays)
	}
}

// RemoveGroup deletes all keys under one lock.
func (m *MemoryStore) RemoveGroup(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) setLocked(key, value string, expiryDays int) {
	if m.unavailable {
		return
	}
	e := memoryEntry{value: value}
	if expiryDays > 0 {
		e.expiresAt = m.now().Add(time.Duration(expiryDays) * day)
	}
	m.entries[key] = e
}
