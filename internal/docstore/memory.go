package docstore

import (
	"context"
	"strconv"
	"sync"
)

type memoryEntry struct {
	data    []byte
	version int64
}

// MemoryStore keeps documents in process memory with the same versioning
// rules as the remote backends.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]memoryEntry
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Read(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Key: key, Data: clone(e.data), Version: strconv.FormatInt(e.version, 10)}, nil
}

func (m *MemoryStore) Write(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.docs[key]
	current := ""
	if exists {
		current = strconv.FormatInt(e.version, 10)
	}
	if current != expectedVersion || (expectedVersion == "" && exists) {
		return "", &ConflictError{Key: key, Expected: expectedVersion, Actual: current}
	}

	e = memoryEntry{data: clone(data), version: e.version + 1}
	m.docs[key] = e
	m.writes++
	return strconv.FormatInt(e.version, 10), nil
}

func (m *MemoryStore) CreateIfMissing(ctx context.Context, key string, initial []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.docs[key]; ok {
		return strconv.FormatInt(e.version, 10), nil
	}
	m.docs[key] = memoryEntry{data: clone(initial), version: 1}
	m.writes++
	return "1", nil
}

// Writes returns how many successful writes the store has accepted.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
