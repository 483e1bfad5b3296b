package results

import (
	"context"
	"sync"
)

// MemoryStorage is an in-process Storage, used in tests and when no
// store path is configured.
type MemoryStorage struct {
	mu  sync.Mutex
	set Set

	// SaveErr, when set, is returned from Save. Tests use it to
	// exercise checkpoint failure handling.
	SaveErr error
	// Saves counts successful Save calls.
	Saves int
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{set: Set{}}
}

func (m *MemoryStorage) Load(ctx context.Context) (Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Set, len(m.set))
	for id, sl := range m.set {
		out[id] = sl
	}
	return out, nil
}

func (m *MemoryStorage) Save(ctx context.Context, s Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	cp := make(Set, len(s))
	for id, sl := range s {
		cp[id] = sl
	}
	m.set = cp
	m.Saves++
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, leadID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, leadID)
	return nil
}

func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = Set{}
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
