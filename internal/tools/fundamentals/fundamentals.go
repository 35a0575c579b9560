// Package fundamentals exposes the financial statement tool used by the
// fundamentals analyst.
package fundamentals

import (
	"context"
	"encoding/json"
	"fmt"

	"minerva/internal/tools"
	"minerva/pkg/canonical"
	"minerva/pkg/errors"
)

// sections are the sub-resources fetched per symbol, each with its own cache
// class and TTL.
var sections = []struct {
	name  string
	class tools.DataClass
}{
	{"statements", tools.ClassStatements},
	{"profile", tools.ClassProfile},
	{"dividends", tools.ClassDividends},
	{"splits", tools.ClassSplits},
}

var fundamentalsParams = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"symbol": map[string]interface{}{
			"type":        "string",
			"description": "Ticker symbol, e.g. AAPL",
		},
		"trade_date": map[string]interface{}{
			"type":        "string",
			"description": "Analysis date in YYYY-MM-DD form",
		},
	},
	"required": []string{"symbol", "trade_date"},
}

// NewFundamentalsTool combines statements, company profile, dividends and
// splits into one payload. The combined fingerprint changes whenever any
// section changes.
func NewFundamentalsTool(cache *tools.CachedFetcher) tools.Tool {
	return tools.New("fundamentals", "Retrieve financial statements, company profile, dividends and splits", fundamentalsParams, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		symbol, err := tools.StringArg(args, "symbol")
		if err != nil {
			return nil, err
		}
		tradeDate, err := tools.StringArg(args, "trade_date")
		if err != nil {
			return nil, err
		}

		combined := map[string]interface{}{
			"symbol":     symbol,
			"trade_date": tradeDate,
		}
		fingerprints := make(map[string]string, len(sections))
		source := tools.SourceTTLCache

		for _, section := range sections {
			res, err := cache.Resolve(ctx, section.class, tools.FetchRequest{
				Tool: "fundamentals_" + section.name,
				Key:  fmt.Sprintf("%s:%s", symbol, tradeDate),
				Args: args,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "fundamentals: %s", section.name)
			}

			combined[section.name] = json.RawMessage(res.Payload)
			fingerprints[section.name] = res.Fingerprint
			source = worseSource(source, res.Source)
		}

		fingerprint, err := canonical.Fingerprint(fingerprints)
		if err != nil {
			return nil, errors.Wrap(err, "fundamentals: combined fingerprint")
		}
		payload, err := json.Marshal(combined)
		if err != nil {
			return nil, errors.Wrap(err, "fundamentals: encode payload")
		}

		return &tools.Result{Payload: payload, Fingerprint: fingerprint, Source: source}, nil
	})
}

// worseSource keeps the least-cached of two sources: a single network fetch
// marks the whole result as fetched from the network.
func worseSource(a, b tools.Source) tools.Source {
	rank := map[tools.Source]int{
		tools.SourceTTLCache:    0,
		tools.SourceConditional: 1,
		tools.SourceNetwork:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
