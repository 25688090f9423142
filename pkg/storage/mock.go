package storage

import (
	"bytes"
	"context"
	"sync"
)

// MockStorage is an in-memory SnapshotStore for testing
type MockStorage struct {
	mu        sync.RWMutex
	data      []byte
	saves     int
	pingError error
	saveError error
	loadError error
}

// Ensure MockStorage implements SnapshotStore interface
var _ SnapshotStore = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetSaveError configures the mock to fail on save
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError configures the mock to fail on load
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// SaveSnapshot stores a copy of data
func (m *MockStorage) SaveSnapshot(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.data = bytes.Clone(data)
	m.saves++
	return nil
}

// LoadSnapshot returns a copy of the last saved data
func (m *MockStorage) LoadSnapshot(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loadError != nil {
		return nil, m.loadError
	}
	if m.data == nil {
		return nil, nil
	}
	return bytes.Clone(m.data), nil
}

// SaveCount returns how many successful saves have happened
func (m *MockStorage) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
