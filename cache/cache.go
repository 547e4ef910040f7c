// Package cache provides the keyed, TTL-bounded cache capability injected into
// services that keep read-heavy data close at hand.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache keyed byte cache with per-entry TTL. A zero TTL never expires.
type Cache interface {
	// Get returns the value and true, or false when the key is missing or expired
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// memory process-local Cache
type memory struct {
	// lock synchronizes access to entries to make it concurrency safe
	lock    sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an in-process Cache
func NewMemory() Cache {
	return &memory{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

func (m *memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.lock.RLock()
	e, ok := m.entries[key]
	m.lock.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.lock.Lock()
		// re-check, a concurrent Set may have refreshed the entry
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.lock.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries[key] = e
	return nil
}

func (m *memory) Delete(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.entries, key)
	return nil
}
