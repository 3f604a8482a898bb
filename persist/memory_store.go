package persist

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a process-local Store. Values are copied on the way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Write(_ context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetType() string { return string(StoreTypeMemory) }

// MemoryBlobStore is a process-local BlobStore
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	dirs    map[string]struct{}
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects: make(map[string][]byte),
		dirs:    make(map[string]struct{}),
	}
}

func (m *MemoryBlobStore) Upload(_ context.Context, path string, data []byte, opts UploadOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[path]; exists && !opts.Overwrite {
		return fmt.Errorf("object %q: %w", path, ErrAlreadyExists)
	}
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", path, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBlobStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *MemoryBlobStore) CreateDirectory(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = struct{}{}
	return nil
}

func (m *MemoryBlobStore) Ping(context.Context) error { return nil }

func (m *MemoryBlobStore) GetType() string { return string(StoreTypeMemory) }
