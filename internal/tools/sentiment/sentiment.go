// Package sentiment exposes the news and social media tools used by the news
// and social analysts.
package sentiment

import (
	"context"
	"fmt"

	"minerva/internal/tools"
)

var newsParams = map[string]interface{}{
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
		"limit": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of headlines to return",
		},
	},
	"required": []string{"symbol", "trade_date"},
}

// NewNewsTool loads recent company and macro headlines.
func NewNewsTool(cache *tools.CachedFetcher) tools.Tool {
	return tools.New("news_headlines", "Retrieve recent news headlines for a symbol", newsParams, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		symbol, err := tools.StringArg(args, "symbol")
		if err != nil {
			return nil, err
		}
		tradeDate, err := tools.StringArg(args, "trade_date")
		if err != nil {
			return nil, err
		}
		limit := tools.IntArg(args, "limit", 25)

		return cache.Resolve(ctx, tools.ClassNews, tools.FetchRequest{
			Tool: "news_headlines",
			Key:  fmt.Sprintf("%s:%s:%d", symbol, tradeDate, limit),
			Args: args,
		})
	})
}

var socialParams = map[string]interface{}{
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

// NewSocialTool loads aggregated social media sentiment for a symbol.
func NewSocialTool(cache *tools.CachedFetcher) tools.Tool {
	return tools.New("social_sentiment", "Retrieve aggregated social media sentiment for a symbol", socialParams, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		symbol, err := tools.StringArg(args, "symbol")
		if err != nil {
			return nil, err
		}
		tradeDate, err := tools.StringArg(args, "trade_date")
		if err != nil {
			return nil, err
		}

		return cache.Resolve(ctx, tools.ClassSentiment, tools.FetchRequest{
			Tool: "social_sentiment",
			Key:  fmt.Sprintf("%s:%s", symbol, tradeDate),
			Args: args,
		})
	})
}
