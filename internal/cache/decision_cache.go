// Package cache stores completed decisions keyed by agent version, symbol,
// and input fingerprint so identical requests short-circuit the graph.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"minerva/internal/domain/run"
	"minerva/pkg/canonical"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const (
	keyPrefix    = "minerva:decision"
	writeLockTTL = 10 * time.Second
)

// Store is the backend contract, satisfied by the Redis adapter and the
// in-memory implementation below.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// DecisionCache wraps a Store with decision serialisation and key layout.
type DecisionCache struct {
	store Store
	ttl   time.Duration
	log   *logger.Logger
}

// New creates a decision cache with the given entry TTL.
func New(store Store, ttl time.Duration) *DecisionCache {
	return &DecisionCache{
		store: store,
		ttl:   ttl,
		log:   logger.Get().With("component", "decision_cache"),
	}
}

// Key builds the cache key for one decision.
func Key(agentVersion, symbol, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, agentVersion, symbol, fingerprint)
}

// InputFingerprint hashes the request-shaping parts of a run config. Analyst
// order does not matter; every other field does.
func InputFingerprint(cfg run.Config) (string, error) {
	analysts := make([]string, 0, len(cfg.SelectedAnalysts))
	for _, kind := range cfg.SelectedAnalysts {
		analysts = append(analysts, string(kind))
	}
	sort.Strings(analysts)

	return canonical.Fingerprint(map[string]interface{}{
		"symbol":        cfg.Symbol,
		"trade_date":    cfg.TradeDate,
		"model_id":      cfg.ModelID,
		"agent_version": cfg.AgentVersion,
		"analysts":      analysts,
		"debate_rounds": cfg.DebateRounds,
		"risk_rounds":   cfg.RiskRounds,
	})
}

// Get returns the cached decision or errors.ErrNotFound.
func (c *DecisionCache) Get(ctx context.Context, agentVersion, symbol, fingerprint string) (*run.Decision, error) {
	raw, err := c.store.GetBytes(ctx, Key(agentVersion, symbol, fingerprint))
	if err != nil {
		return nil, err
	}

	var decision run.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, errors.Wrap(err, "decode cached decision")
	}
	return &decision, nil
}

// Put stores a decision under a per-key write lock so two runs colliding on
// the same fingerprint do not interleave writes.
func (c *DecisionCache) Put(ctx context.Context, decision *run.Decision) error {
	key := Key(decision.AgentVersion, decision.Symbol, decision.InputFingerprint)

	raw, err := json.Marshal(decision)
	if err != nil {
		return errors.Wrap(err, "encode decision")
	}

	locked, err := c.store.AcquireLock(ctx, key, writeLockTTL)
	if err != nil {
		c.log.Warnw("cache lock unavailable, writing unguarded", "key", key, "error", err)
	} else if locked {
		defer func() {
			if err := c.store.ReleaseLock(context.Background(), key); err != nil {
				c.log.Warnw("cache lock release failed", "key", key, "error", err)
			}
		}()
	} else {
		// Another writer holds the lock; the colliding run computed the same
		// decision inputs, so its write is as good as ours.
		return nil
	}

	return c.store.SetBytes(ctx, key, raw, c.ttl)
}

// InvalidateSymbol removes every cached decision for a symbol under the given
// agent version.
func (c *DecisionCache) InvalidateSymbol(ctx context.Context, agentVersion, symbol string) error {
	return c.store.DeleteByPrefix(ctx, fmt.Sprintf("%s:%s:%s:", keyPrefix, agentVersion, symbol))
}
