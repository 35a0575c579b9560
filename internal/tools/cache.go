package tools

import (
	"context"
	"encoding/json"
	"time"

	"minerva/pkg/canonical"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const (
	lockTTL      = 30 * time.Second
	lockPollStep = 50 * time.Millisecond
	lockWaitMax  = 10 * time.Second
)

// cacheEntry is the stored form of a fetched payload. Entries outlive their
// freshness TTL so the validator stays available for conditional requests.
type cacheEntry struct {
	Payload     json.RawMessage `json:"payload"`
	Fingerprint string          `json:"fingerprint"`
	Validator   string          `json:"validator,omitempty"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// CachedFetcher wraps an upstream Fetcher with per-class TTL caching,
// conditional revalidation, and per-key fetch locks.
type CachedFetcher struct {
	fetcher Fetcher
	store   ByteStore
	locker  Locker
	policy  Policy
	log     *logger.Logger
}

// NewCachedFetcher builds the caching layer. A nil policy uses the defaults.
func NewCachedFetcher(fetcher Fetcher, store ByteStore, locker Locker, policy Policy) *CachedFetcher {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &CachedFetcher{
		fetcher: fetcher,
		store:   store,
		locker:  locker,
		policy:  policy,
		log:     logger.Get().With("component", "tool_cache"),
	}
}

// Resolve returns the payload for req, serving fresh cache hits directly,
// revalidating stale entries when a validator exists, and fetching from the
// network otherwise. Concurrent fetches of the same key are collapsed by a
// per-key lock.
func (c *CachedFetcher) Resolve(ctx context.Context, class DataClass, req FetchRequest) (*Result, error) {
	key := "minerva:tool:" + req.Tool + ":" + req.Key
	ttl := c.policy.TTL(class)

	if ent, ok := c.load(ctx, key); ok && c.fresh(ent, ttl) {
		return &Result{Payload: ent.Payload, Fingerprint: ent.Fingerprint, Source: SourceTTLCache}, nil
	}

	unlock, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another caller may have filled the cache while we waited.
	ent, ok := c.load(ctx, key)
	if ok && c.fresh(ent, ttl) {
		return &Result{Payload: ent.Payload, Fingerprint: ent.Fingerprint, Source: SourceTTLCache}, nil
	}
	if ok {
		req.Validator = ent.Validator
	}

	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", req.Tool)
	}

	if resp.NotModified {
		if !ok {
			return nil, errors.Wrapf(errors.ErrInternal, "%s: upstream 304 without a cached payload", req.Tool)
		}
		ent.FetchedAt = time.Now()
		c.save(ctx, key, ent, ttl)
		return &Result{Payload: ent.Payload, Fingerprint: ent.Fingerprint, Source: SourceConditional}, nil
	}

	payload, err := json.Marshal(resp.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", req.Tool)
	}
	fingerprint, err := canonical.Fingerprint(resp.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "fingerprint %s payload", req.Tool)
	}

	fresh := cacheEntry{
		Payload:     payload,
		Fingerprint: fingerprint,
		Validator:   resp.Validator,
		FetchedAt:   time.Now(),
	}
	c.save(ctx, key, fresh, ttl)

	return &Result{Payload: payload, Fingerprint: fingerprint, Source: SourceNetwork}, nil
}

func (c *CachedFetcher) fresh(ent cacheEntry, ttl time.Duration) bool {
	return time.Since(ent.FetchedAt) < ttl
}

func (c *CachedFetcher) load(ctx context.Context, key string) (cacheEntry, bool) {
	raw, err := c.store.GetBytes(ctx, key)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			c.log.Warnw("cache read failed", "key", key, "error", err)
		}
		return cacheEntry{}, false
	}

	var ent cacheEntry
	if err := json.Unmarshal(raw, &ent); err != nil {
		c.log.Warnw("cache entry corrupt", "key", key, "error", err)
		return cacheEntry{}, false
	}
	return ent, true
}

func (c *CachedFetcher) save(ctx context.Context, key string, ent cacheEntry, ttl time.Duration) {
	raw, err := json.Marshal(ent)
	if err != nil {
		c.log.Warnw("cache encode failed", "key", key, "error", err)
		return
	}
	// Keep stale entries around past freshness so validators survive for
	// conditional revalidation.
	if err := c.store.SetBytes(ctx, key, raw, ttl*4); err != nil {
		c.log.Warnw("cache write failed", "key", key, "error", err)
	}
}

// acquire blocks until the per-key fetch lock is held, polling so that a
// waiter re-checks the cache filled by the lock holder. It degrades to an
// unguarded fetch when the lock backend errors or the wait budget runs out.
func (c *CachedFetcher) acquire(ctx context.Context, key string) (func(), error) {
	lockKey := key + ":fetch"
	deadline := time.Now().Add(lockWaitMax)

	for {
		ok, err := c.locker.AcquireLock(ctx, lockKey, lockTTL)
		if err != nil {
			c.log.Warnw("lock backend unavailable, fetching unguarded", "key", key, "error", err)
			return func() {}, nil
		}
		if ok {
			return func() {
				if err := c.locker.ReleaseLock(context.Background(), lockKey); err != nil {
					c.log.Warnw("lock release failed", "key", key, "error", err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			c.log.Warnw("lock wait budget exhausted, fetching unguarded", "key", key)
			return func() {}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(errors.ErrTimeout, "waiting for fetch lock on %s", key)
		case <-time.After(lockPollStep):
		}
	}
}
