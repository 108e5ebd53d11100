package spillstore

import (
	"context"
	"strings"
	"sync"

	"github.com/NVIDIA/emsqrt/internal/spill"
)

// MemStorage is a process-local in-memory Storage, used by the
// memory:// source/sink test harness and by unit tests that want a
// Storage without touching disk.
type MemStorage struct {
	mtx  sync.RWMutex
	data map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{data: make(map[string][]byte)}
}

func (m *MemStorage) Write(_ context.Context, path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mtx.Lock()
	m.data[path] = cp
	m.mtx.Unlock()
	return nil
}

func (m *MemStorage) ReadRange(_ context.Context, path string, offset int64, length int) ([]byte, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	full, ok := m.data[path]
	if !ok {
		return nil, &spill.StorageError{Kind: spill.ErrNotFound, Op: "read", Path: path, Err: errNotFound}
	}
	end := offset + int64(length)
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	if offset > int64(len(full)) {
		offset = int64(len(full))
	}
	out := make([]byte, end-offset)
	copy(out, full[offset:end])
	return out, nil
}

func (m *MemStorage) Delete(_ context.Context, path string) error {
	m.mtx.Lock()
	delete(m.data, path)
	m.mtx.Unlock()
	return nil
}

func (m *MemStorage) List(_ context.Context, prefix string) ([]string, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []string
	for p := range m.data {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStorage) Size(_ context.Context, path string) (int64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	full, ok := m.data[path]
	if !ok {
		return 0, &spill.StorageError{Kind: spill.ErrNotFound, Op: "size", Path: path, Err: errNotFound}
	}
	return int64(len(full)), nil
}

func (m *MemStorage) Etag(_ context.Context, path string) (string, bool, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	_, ok := m.data[path]
	return "", ok, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

// MemorySourceRegistry is the process-local map consulted by the
// memory:// source convention (spec.md §6): keys are RowBatch payloads
// registered by the test harness / CLI before a run.
type MemorySourceRegistry struct {
	mtx   sync.RWMutex
	batch map[string][]byte
}

func NewMemorySourceRegistry() *MemorySourceRegistry {
	return &MemorySourceRegistry{batch: make(map[string][]byte)}
}

func (r *MemorySourceRegistry) Put(key string, encoded []byte) {
	r.mtx.Lock()
	r.batch[key] = encoded
	r.mtx.Unlock()
}

func (r *MemorySourceRegistry) Get(key string) ([]byte, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	v, ok := r.batch[key]
	return v, ok
}
