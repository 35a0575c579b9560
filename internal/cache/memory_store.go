package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"minerva/pkg/errors"
)

// MemoryStore is an in-process Store used when Redis is absent and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
	}
}

// GetBytes returns the stored value or errors.ErrNotFound.
func (s *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || (!ent.expires.IsZero() && time.Now().After(ent.expires)) {
		return nil, errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	return ent.value, nil
}

// SetBytes stores a value with an optional TTL.
func (s *MemoryStore) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := memoryEntry{value: value}
	if ttl > 0 {
		ent.expires = time.Now().Add(ttl)
	}
	s.entries[key] = ent
	return nil
}

// DeleteByPrefix removes every key with the given prefix.
func (s *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// AcquireLock takes the named lock if free or expired.
func (s *MemoryStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.locks[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	s.locks[key] = time.Now().Add(ttl)
	return true, nil
}

// ReleaseLock frees the named lock.
func (s *MemoryStore) ReleaseLock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}
