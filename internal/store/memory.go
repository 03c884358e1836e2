package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process KV implementation. Expired entries are dropped
// lazily on access and swept periodically by a janitor goroutine.
// Single-instance semantics only; use Redis when running more than one
// gateway instance.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
	nowFn   func() time.Time
}

// NewMemory creates a memory store and starts its sweep loop.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
		nowFn:   time.Now,
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go m.sweepLoop(sweepInterval)
	return m
}

// CheckAndInsert implements KV. The mutex makes the check-and-set atomic
// across concurrent requests racing on the same key.
func (m *Memory) CheckAndInsert(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && now.Before(entry.expiresAt) {
		existing := make([]byte, len(entry.value))
		copy(existing, entry.value)
		return existing, false, nil
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{value: stored, expiresAt: now.Add(ttl)}
	return nil, true, nil
}

// Get implements KV.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Delete implements KV.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Close stops the sweep loop.
func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

// Len reports the number of live entries, for readiness stats.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
