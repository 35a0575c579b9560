// Package market exposes the candle and indicator tool used by the market
// analyst.
package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"minerva/internal/tools"
	"minerva/pkg/errors"
)

// Candle is one daily OHLCV bar, chronological order, oldest first.
type Candle struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

var marketDataParams = map[string]interface{}{
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
		"lookback_days": map[string]interface{}{
			"type":        "integer",
			"description": "Number of trailing daily candles to load",
		},
	},
	"required": []string{"symbol", "trade_date"},
}

// NewMarketDataTool loads historical candles up to trade_date and enriches
// them with RSI, MACD and SMA readings.
func NewMarketDataTool(cache *tools.CachedFetcher) tools.Tool {
	return tools.New("market_data", "Retrieve daily OHLCV candles with technical indicators", marketDataParams, func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
		symbol, err := tools.StringArg(args, "symbol")
		if err != nil {
			return nil, err
		}
		tradeDate, err := tools.StringArg(args, "trade_date")
		if err != nil {
			return nil, err
		}
		lookback := tools.IntArg(args, "lookback_days", 90)

		res, err := cache.Resolve(ctx, tools.ClassCandles, tools.FetchRequest{
			Tool: "market_data",
			Key:  fmt.Sprintf("%s:%s:%d", symbol, tradeDate, lookback),
			Args: args,
		})
		if err != nil {
			return nil, err
		}

		var candles []Candle
		if err := json.Unmarshal(res.Payload, &candles); err != nil {
			return nil, errors.Wrapf(err, "market_data: decode candles for %s", symbol)
		}
		if len(candles) == 0 {
			return nil, errors.Wrapf(errors.ErrNotFound, "market_data: no candles for %s on %s", symbol, tradeDate)
		}

		payload, err := json.Marshal(map[string]interface{}{
			"symbol":     symbol,
			"trade_date": tradeDate,
			"candles":    candles,
			"indicators": computeIndicators(candles),
		})
		if err != nil {
			return nil, errors.Wrap(err, "market_data: encode payload")
		}

		return &tools.Result{Payload: payload, Fingerprint: res.Fingerprint, Source: res.Source}, nil
	})
}

// computeIndicators derives the standard readings from closing prices.
// Indicators needing more history than available are omitted rather than
// failing the whole tool.
func computeIndicators(candles []Candle) map[string]interface{} {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}

	out := make(map[string]interface{})

	if len(closes) > 14 {
		rsi := talib.Rsi(closes, 14)
		out["rsi_14"] = roundReading(last(rsi))
	}
	if len(closes) >= 26+9 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		out["macd"] = map[string]interface{}{
			"line":      roundReading(last(macd)),
			"signal":    roundReading(last(signal)),
			"histogram": roundReading(last(hist)),
		}
	}
	if len(closes) >= 20 {
		out["sma_20"] = roundReading(last(talib.Sma(closes, 20)))
	}
	if len(closes) >= 50 {
		out["sma_50"] = roundReading(last(talib.Sma(closes, 50)))
	}

	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func roundReading(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}
