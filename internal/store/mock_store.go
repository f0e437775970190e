// ABOUTME: Mock Store implementation for testing.
// ABOUTME: Allows tests to run without SQLite.

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages map[string]*PendingMessage // keyed by correlation key
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages: make(map[string]*PendingMessage),
	}
}

// Put inserts or replaces the record for msg.Key.
func (m *MockStore) Put(ctx context.Context, msg *PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external modification
	cp := *msg
	m.messages[cp.Key] = &cp
	return nil
}

// Get retrieves a record by key.
func (m *MockStore) Get(ctx context.Context, key string) (*PendingMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// Delete removes a record by key. Absent keys are a no-op.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, key)
	return nil
}

// Touch refreshes the last-attempt timestamp for key.
func (m *MockStore) Touch(ctx context.Context, key string, lastTried time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[key]
	if !ok {
		return ErrNotFound
	}
	msg.LastTried = lastTried
	return nil
}

// ListDue returns records whose last attempt is at or before cutoff.
func (m *MockStore) ListDue(ctx context.Context, cutoff time.Time) ([]*PendingMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*PendingMessage
	for _, msg := range m.messages {
		if !msg.LastTried.After(cutoff) {
			cp := *msg
			due = append(due, &cp)
		}
	}
	sortByLastTried(due)
	return due, nil
}

// List returns all records, oldest first.
func (m *MockStore) List(ctx context.Context) ([]*PendingMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*PendingMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		cp := *msg
		all = append(all, &cp)
	}
	sortByLastTried(all)
	return all, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

func sortByLastTried(msgs []*PendingMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].LastTried.Before(msgs[j].LastTried)
	})
}
