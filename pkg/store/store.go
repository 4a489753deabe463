package store

import (
	"context"
	"sync"
)

// Storage is the key/value contract the wallpaper cache is written against.
// Set with overwrite=false refuses to replace an existing key and reports false.
// Delete reports whether a record was removed; deleting a missing key is not an error.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, overwrite bool) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process Storage, used by tests and by the one-shot CLI mode.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores data under key.
func (m *Memory) Set(_ context.Context, key string, data []byte, overwrite bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists && !overwrite {
		return false, nil
	}
	m.data[key] = append([]byte(nil), data...)
	return true, nil
}

// Delete removes key and reports whether it was present.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.data[key]
	delete(m.data, key)
	return exists, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
