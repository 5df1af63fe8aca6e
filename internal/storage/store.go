package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an object doesn't exist in a bucket
var ErrNotFound = errors.New("object not found")

// Store defines the object storage the workers read chunks from and write
// results to. All implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves an object
	// Returns ErrNotFound if the object doesn't exist
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put stores an object, overwriting any existing one
	Put(ctx context.Context, bucket, key string, data []byte) error

	// Delete removes an object
	// No error if the object doesn't exist
	Delete(ctx context.Context, bucket, key string) error

	// List returns the keys in bucket starting with prefix, sorted
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// StoreStats contains statistics about a MemoryStore
type StoreStats struct {
	Objects int // Number of objects across all buckets
	Bytes   int // Total size of all objects in bytes
}

// MemoryStore implements Store in memory
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	data map[string]map[string][]byte // bucket -> key -> object
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string][]byte),
	}
}

// Get returns a copy of the object to prevent external modification
func (m *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[bucket][key]
	if !exists {
		return nil, ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of data
func (m *MemoryStore) Put(_ context.Context, bucket, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	if m.data[bucket] == nil {
		m.data[bucket] = make(map[string][]byte)
	}
	m.data[bucket][key] = stored
	return nil
}

// Delete removes an object (idempotent)
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[bucket], key)
	return nil
}

// List returns the sorted keys of bucket starting with prefix
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data[bucket]))
	for key := range m.data[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats StoreStats
	for _, objects := range m.data {
		for _, value := range objects {
			stats.Objects++
			stats.Bytes += len(value)
		}
	}
	return stats
}
