package tools

import (
	"context"
	"sync"
	"time"

	"minerva/pkg/errors"
)

// FetchRequest identifies one upstream data fetch.
type FetchRequest struct {
	// Tool is the logical tool name issuing the fetch.
	Tool string
	// Key uniquely identifies the fetched resource within the tool.
	Key string
	// Args are the parsed tool arguments, forwarded to the upstream adapter.
	Args map[string]interface{}
	// Validator is the ETag or Last-Modified value from a previous fetch,
	// empty when none is known.
	Validator string
}

// FetchResponse is a raw upstream payload before caching.
type FetchResponse struct {
	// Payload is the decoded upstream document. Ignored when NotModified.
	Payload interface{}
	// Validator is the vendor-provided validator for conditional requests.
	Validator string
	// NotModified reports that the upstream confirmed the cached payload is
	// still current (HTTP 304 or equivalent).
	NotModified bool
}

// Fetcher performs the actual upstream call for a tool. Implementations must
// classify upstream 5xx and timeouts as errors.ErrTransientTool.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// ByteStore is the cache backend contract, satisfied by the Redis adapter.
type ByteStore interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker guards upstream fetches per cache key, satisfied by the Redis
// adapter.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// MemoryStore is an in-process ByteStore used when Redis is absent and in
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// GetBytes returns the stored value or errors.ErrNotFound.
func (s *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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

// MemoryLocker is an in-process Locker used when Redis is absent and in
// tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

// AcquireLock takes the named lock if free or expired.
func (l *MemoryLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	l.held[key] = time.Now().Add(ttl)
	return true, nil
}

// ReleaseLock frees the named lock.
func (l *MemoryLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
