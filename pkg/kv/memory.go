package kv

import (
	"context"
	"iter"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store.
// It's useful for:
// - Unit testing (no disk I/O)
// - CLI dry runs and small graphs that fit in RAM
//
// Keys enumerate in creation order: a key deleted and created again moves
// to the end.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	// order is an append-only creation log; slots whose entry was deleted
	// or re-created are skipped and compacted once they dominate the log.
	order []string
	stale int

	revision uint64
	closed   bool
}

type memoryEntry struct {
	value    []byte
	revision uint64
	slot     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
	}
}

// Get returns a copy of the entry stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed()
	}

	e, ok := m.entries[key]
	if !ok {
		return nil, errNotFound(key)
	}
	return &Entry{Key: key, Value: cloneBytes(e.value), Revision: e.revision}, nil
}

// Put stores value under key unconditionally.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed()
	}
	return m.setLocked(key, value), nil
}

// Create stores value only if key is absent.
func (m *MemoryStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed()
	}
	if _, exists := m.entries[key]; exists {
		return 0, errExists(key)
	}
	return m.setLocked(key, value), nil
}

// Update stores value if the current revision equals rev (rev 0 = always).
func (m *MemoryStore) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errClosed()
	}
	if rev != 0 {
		e, ok := m.entries[key]
		if !ok || e.revision != rev {
			return 0, errMismatch(key, rev)
		}
	}
	return m.setLocked(key, value), nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.stale++
		m.compactLocked()
	}
	return nil
}

// Keys yields keys matching pattern in creation order.
//
// The matching keys are snapshotted under the read lock and yielded without
// it, so the caller may write to the store while iterating.
func (m *MemoryStore) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	p, err := ParsePattern(pattern)
	if err != nil {
		return failedKeys(err)
	}
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield("", errClosed())
			return
		}
		var matched []string
		for i, key := range m.order {
			e, ok := m.entries[key]
			if !ok || e.slot != i {
				continue
			}
			if p.Match(key) {
				matched = append(matched, key)
			}
		}
		m.mu.RUnlock()

		for _, key := range matched {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// Len returns the number of live keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close marks the store closed. Subsequent calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) setLocked(key string, value []byte) uint64 {
	m.revision++
	if e, ok := m.entries[key]; ok {
		e.value = cloneBytes(value)
		e.revision = m.revision
		return m.revision
	}
	m.entries[key] = &memoryEntry{
		value:    cloneBytes(value),
		revision: m.revision,
		slot:     len(m.order),
	}
	m.order = append(m.order, key)
	return m.revision
}

func (m *MemoryStore) compactLocked() {
	if m.stale < 1024 || m.stale < len(m.order)/2 {
		return
	}
	order := make([]string, 0, len(m.entries))
	for i, key := range m.order {
		e, ok := m.entries[key]
		if !ok || e.slot != i {
			continue
		}
		e.slot = len(order)
		order = append(order, key)
	}
	m.order = order
	m.stale = 0
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
