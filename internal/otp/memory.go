package otp

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoCode is returned when no live record exists for the key.
var ErrNoCode = errors.New("no code on file")

// MemoryCodes is a TTL map for single-process runs and tests.
type MemoryCodes struct {
	mu    sync.Mutex
	store map[string]memEntry
}

type memEntry struct {
	rec Record
	exp time.Time
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{store: make(map[string]memEntry)}
}

func (m *MemoryCodes) Put(ctx context.Context, purpose, email string, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key(purpose, email)] = memEntry{rec: rec, exp: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCodes) Get(ctx context.Context, purpose, email string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(purpose, email)
	e, ok := m.store[k]
	if !ok {
		return Record{}, ErrNoCode
	}
	if time.Now().After(e.exp) {
		delete(m.store, k)
		return Record{}, ErrNoCode
	}
	return e.rec, nil
}

func (m *MemoryCodes) Delete(ctx context.Context, purpose, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key(purpose, email))
	return nil
}
