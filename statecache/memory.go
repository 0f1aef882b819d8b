package statecache

import (
	"context"
	"sync"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

// DefaultCleanupInterval is how often the background sweep evicts expired
// entries when none is configured.
const DefaultCleanupInterval = 1 * time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process TTL store. Expired entries are invisible to Get
// immediately and reclaimed by a background sweep.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*memoryEntry

	cleanupInterval time.Duration
	shutdown        chan struct{}
	done            chan struct{}
	closeOnce       sync.Once
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*Memory)

// WithCleanupInterval overrides the background sweep interval.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.cleanupInterval = d }
}

// NewMemory creates an in-memory store and starts its sweep goroutine. The
// goroutine stops when ctx is cancelled or Close is called.
func NewMemory(ctx context.Context, opts ...MemoryOption) *Memory {
	m := &Memory{
		items:           make(map[string]*memoryEntry),
		cleanupInterval: DefaultCleanupInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.sweep(ctx)
	return m
}

// Get returns a copy of the stored value, or ErrKeyNotFound for absent or
// expired keys.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, errors.ErrKeyNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of value under key. A non-positive ttl means no expiry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Memory", "Set", "key cannot be empty")
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := &memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live (unexpired) entries.
func (m *Memory) Len() int {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.items {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the background sweep. Safe to call more than once.
func (m *Memory) Close() {
	m.closeOnce.Do(func() {
		close(m.shutdown)
		<-m.done
	})
}

func (m *Memory) sweep(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired(time.Now())
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Memory) evictExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.items {
		if entry.expired(now) {
			delete(m.items, key)
		}
	}
}
