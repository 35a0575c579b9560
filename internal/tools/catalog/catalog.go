// Package catalog assembles the full tool registry and the per-analyst
// allow-lists.
package catalog

import (
	"minerva/internal/domain/run"
	"minerva/internal/tools"
	"minerva/internal/tools/fundamentals"
	"minerva/internal/tools/market"
	"minerva/internal/tools/sentiment"
)

// Build registers every tool against the shared caching fetcher.
func Build(cache *tools.CachedFetcher) *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(market.NewMarketDataTool(cache))
	registry.Register(sentiment.NewNewsTool(cache))
	registry.Register(sentiment.NewSocialTool(cache))
	registry.Register(fundamentals.NewFundamentalsTool(cache))

	return registry
}

// analystTools binds each analyst kind to the tools it may call.
var analystTools = map[run.AnalystKind][]string{
	run.AnalystMarket:       {"market_data"},
	run.AnalystSocial:       {"social_sentiment", "news_headlines"},
	run.AnalystNews:         {"news_headlines"},
	run.AnalystFundamentals: {"fundamentals"},
}

// ForAnalyst returns the tool names an analyst kind is allowed to call.
func ForAnalyst(kind run.AnalystKind) []string {
	return analystTools[kind]
}
