// Package idempotency deduplicates retried mutating requests. A key is
// reserved atomically before any work starts, completed with the result once
// the work succeeded, and released when it failed so the client may retry.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL how long a key is retained
const DefaultTTL = time.Hour

// State of a reserved key
type State string

const (
	// InFlight the request holding the key has not finished
	InFlight State = "in_flight"
	// Completed the request finished and Result holds its response
	Completed State = "completed"
)

// Record what is stored under a key
type Record struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Result    []byte    `json:"result,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store keeps idempotency records
type Store interface {
	// Reserve claims key as InFlight. When a live record already exists it is
	// returned with reserved == false and nothing is written.
	Reserve(ctx context.Context, key string, ttl time.Duration) (rec Record, reserved bool, err error)

	// Complete stores the result and restarts the retention window
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error

	// Release forgets the key. Releasing an unknown key is not an error.
	Release(ctx context.Context, key string) error
}

// Key scopes a client key to the caller
func Key(userID, key string) string {
	return userID + ":" + key
}

// memory process-local Store
type memory struct {
	lock    sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore returns an in-process Store
func NewMemoryStore() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memory {
	return &memory{records: map[string]Record{}, now: now}
}

func (m *memory) Reserve(_ context.Context, key string, ttl time.Duration) (Record, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	if rec, ok := m.records[key]; ok && !rec.expired(now) {
		return rec, false, nil
	}
	rec := Record{Key: key, State: InFlight, ExpiresAt: now.Add(ttl)}
	m.records[key] = rec
	return rec, true, nil
}

func (m *memory) Complete(_ context.Context, key string, result []byte, ttl time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.records[key] = Record{
		Key:       key,
		State:     Completed,
		Result:    append([]byte(nil), result...),
		ExpiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *memory) Release(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.records, key)
	return nil
}
