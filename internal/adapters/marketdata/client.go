// Package marketdata is the HTTP adapter for the upstream market data vendor.
// It implements the tools fetcher contract: one logical fetch per tool, with
// conditional revalidation via ETags and transient classification of upstream
// failures so the retry middleware can act on them.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"minerva/internal/adapters/config"
	"minerva/internal/tools"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const (
	requestTimeout = 30 * time.Second
	defaultRPS     = 5
	defaultBurst   = 10
)

// Client talks to the market data API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient creates the vendor client from config.
func NewClient(cfg config.MarketDataConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		log:     logger.Get().With("component", "marketdata_client"),
	}
}

// Fetch routes a tool fetch to the vendor endpoint for that tool.
func (c *Client) Fetch(ctx context.Context, req tools.FetchRequest) (*tools.FetchResponse, error) {
	path, query, err := c.route(req)
	if err != nil {
		return nil, err
	}

	raw, validator, notModified, err := c.get(ctx, path, query, req.Validator)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", req.Tool)
	}
	if notModified {
		c.log.Debugw("upstream confirmed cached payload", "tool", req.Tool, "key", req.Key)
		return &tools.FetchResponse{Validator: validator, NotModified: true}, nil
	}

	payload, err := c.decode(req.Tool, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", req.Tool)
	}
	return &tools.FetchResponse{Payload: payload, Validator: validator}, nil
}

// route maps a logical tool to the vendor path and query parameters.
func (c *Client) route(req tools.FetchRequest) (string, url.Values, error) {
	symbol, err := tools.StringArg(req.Args, "symbol")
	if err != nil {
		return "", nil, err
	}
	tradeDate, err := tools.StringArg(req.Args, "trade_date")
	if err != nil {
		return "", nil, err
	}

	query := url.Values{}
	query.Set("symbols", symbol)

	switch req.Tool {
	case "market_data":
		lookback := tools.IntArg(req.Args, "lookback_days", 90)
		from, perr := time.Parse("2006-01-02", tradeDate)
		if perr != nil {
			return "", nil, errors.Wrapf(errors.ErrInvalidInput, "trade date %q", tradeDate)
		}
		query.Set("date_from", from.AddDate(0, 0, -lookback).Format("2006-01-02"))
		query.Set("date_to", tradeDate)
		query.Set("limit", fmt.Sprintf("%d", lookback))
		return "/eod", query, nil

	case "fundamentals_statements":
		query.Set("period", "quarterly")
		return "/statements", query, nil
	case "fundamentals_profile":
		return "/tickerinfo", query, nil
	case "fundamentals_dividends":
		return "/dividends", query, nil
	case "fundamentals_splits":
		return "/splits", query, nil

	case "news_headlines":
		query.Set("date_to", tradeDate)
		query.Set("limit", fmt.Sprintf("%d", tools.IntArg(req.Args, "limit", 25)))
		return "/news", query, nil
	case "social_sentiment":
		query.Set("date", tradeDate)
		return "/sentiment", query, nil
	}

	return "", nil, errors.Wrapf(errors.ErrNotImplemented, "tool %q has no upstream route", req.Tool)
}

// get performs one rate-limited GET with conditional revalidation. A stored
// validator rides out as If-None-Match; a 304 comes back as notModified.
func (c *Client) get(ctx context.Context, path string, query url.Values, validator string) (json.RawMessage, string, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", false, errors.Wrap(err, "rate limiter wait")
	}

	if c.apiKey != "" {
		query.Set("access_key", c.apiKey)
	}
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, "", false, errors.Wrap(errors.ErrTransientTool, "request timed out")
		}
		return nil, "", false, errors.Wrap(errors.ErrTransientTool, err.Error())
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, etag, true, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, "", false, errors.Wrapf(errors.ErrTransientTool, "upstream status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", false, errors.Wrapf(errors.ErrNotFound, "%s", path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", false, errors.Wrapf(errors.ErrInternal, "upstream status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, errors.Wrap(errors.ErrTransientTool, "read body")
	}
	return body, etag, false, nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// envelope is the vendor's standard list wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// eodRow is one vendor end-of-day bar.
type eodRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// decode normalizes the vendor response into the shape the tools expect.
// Candles come back newest first and with full timestamps; the tools want
// chronological bars with plain dates.
func (c *Client) decode(tool string, raw json.RawMessage) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		// Some endpoints return the document directly.
		return json.RawMessage(raw), nil
	}

	if tool != "market_data" {
		return env.Data, nil
	}

	var rows []eodRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, errors.Wrap(err, "eod rows")
	}

	candles := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		date := row.Date
		if len(date) > 10 {
			date = date[:10]
		}
		candles = append(candles, map[string]interface{}{
			"date":   date,
			"open":   row.Open,
			"high":   row.High,
			"low":    row.Low,
			"close":  row.Close,
			"volume": int64(row.Volume),
		})
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i]["date"].(string) < candles[j]["date"].(string)
	})
	return candles, nil
}
