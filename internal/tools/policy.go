package tools

import (
	"encoding/json"
	"os"
	"time"

	"minerva/pkg/errors"
)

// DataClass groups upstream resources by how quickly they go stale.
type DataClass string

const (
	ClassStatements DataClass = "statements"
	ClassProfile    DataClass = "profile"
	ClassDividends  DataClass = "dividends"
	ClassSplits     DataClass = "splits"
	ClassNews       DataClass = "news"
	ClassCandles    DataClass = "candles"
	ClassSentiment  DataClass = "sentiment"
)

// Policy maps a data class to its freshness TTL.
type Policy map[DataClass]time.Duration

// DefaultPolicy returns the built-in per-class freshness TTLs.
func DefaultPolicy() Policy {
	return Policy{
		ClassStatements: 90 * 24 * time.Hour,
		ClassProfile:    7 * 24 * time.Hour,
		ClassDividends:  7 * 24 * time.Hour,
		ClassSplits:     7 * 24 * time.Hour,
		ClassNews:       30 * time.Minute,
		ClassCandles:    15 * time.Minute,
		ClassSentiment:  30 * time.Minute,
	}
}

// LoadPolicy returns the default policy overlaid with entries from a JSON
// file of the form {"news": "30m", "statements": "2160h"}. An empty path
// returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read cache policy %s", path)
	}

	var overrides map[string]string
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, errors.Wrapf(err, "parse cache policy %s", path)
	}

	for class, value := range overrides {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return nil, errors.Wrapf(err, "cache policy entry %q", class)
		}
		policy[DataClass(class)] = ttl
	}

	return policy, nil
}

// TTL returns the freshness window for a class, falling back to the news
// window for unknown classes.
func (p Policy) TTL(class DataClass) time.Duration {
	if ttl, ok := p[class]; ok {
		return ttl
	}
	return 30 * time.Minute
}
