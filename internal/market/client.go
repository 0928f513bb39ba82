// Package market implements the outbound REST polling client (C2) and the
// streaming ticker client (C3) against the external market data venue.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"scalping-engine/internal/engineerr"
	"scalping-engine/internal/metrics"
	"scalping-engine/internal/model"
	"scalping-engine/internal/ratelimit"
)

// Client polls 24h tickers and historical candles over a single pooled HTTP
// client, gated by a shared rate limiter and wrapped in the consolidated
// retry helper (spec §9: "retry with backoff duplicated in three places").
type Client struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *ratelimit.Limiter
	retryAttempts int
	retryBaseDelay time.Duration
	logger        zerolog.Logger
}

// Config configures the retry wrapper and the shared HTTP client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// NewClient constructs a Client sharing a single HTTP client with pooled
// idle connections across all calls.
func NewClient(cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:        limiter,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		logger:         logger.With().Str("component", "market.Client").Logger(),
	}
}

// FetchTickers returns the latest 24h ticker for each requested symbol.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) (map[string]model.PriceData, error) {
	const op = "FetchTickers"
	if !c.limiter.Allow() {
		for _, s := range symbols {
			metrics.RateLimitSkips.WithLabelValues(s).Inc()
		}
		return nil, engineerr.New(engineerr.RateLimited, op, nil)
	}

	body, err := c.doWithRetry(ctx, op, "GET", c.baseURL+"/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, engineerr.New(engineerr.Protocol, op, err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make(map[string]model.PriceData, len(symbols))
	for _, t := range raw {
		if len(symbols) > 0 && !wanted[t.Symbol] {
			continue
		}
		last, err1 := parseFloat(t.LastPrice)
		change, err2 := parseFloat(t.PriceChange)
		changePct, err3 := parseFloat(t.PriceChangePercent)
		vol, err4 := parseFloat(t.Volume)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, engineerr.New(engineerr.Protocol, op, fmt.Errorf("malformed ticker for %s", t.Symbol))
		}
		out[t.Symbol] = model.PriceData{
			Symbol:             t.Symbol,
			LastPrice:          last,
			PriceChange:        change,
			PriceChangePercent: changePct,
			Volume:             vol,
		}
	}
	return out, nil
}

// FetchCandles returns up to limit historical candles for symbol/interval,
// oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	const op = "FetchCandles"
	if !c.limiter.Allow() {
		metrics.RateLimitSkips.WithLabelValues(symbol).Inc()
		return nil, engineerr.New(engineerr.RateLimited, op, nil)
	}

	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d", c.baseURL, symbol, interval, limit)
	body, err := c.doWithRetry(ctx, op, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, engineerr.New(engineerr.Protocol, op, err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			return nil, engineerr.New(engineerr.Protocol, op, fmt.Errorf("short kline row"))
		}
		openTime, ok1 := toInt64(row[0])
		open, ok2 := toFloat(row[1])
		high, ok3 := toFloat(row[2])
		low, ok4 := toFloat(row[3])
		closeP, ok5 := toFloat(row[4])
		vol, ok6 := toFloat(row[5])
		closeTime, ok7 := toInt64(row[6])
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
			return nil, engineerr.New(engineerr.Protocol, op, fmt.Errorf("malformed kline row for %s", symbol))
		}
		candle := model.Candle{
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			Volume:      vol,
			OpenTimeMs:  openTime,
			CloseTimeMs: closeTime,
		}
		if !candle.Valid() {
			return nil, engineerr.New(engineerr.Protocol, op, fmt.Errorf("candle invariant violated for %s", symbol))
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// HealthCheck performs a lightweight upstream reachability probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	const op = "HealthCheck"
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/ping", nil)
	if err != nil {
		return engineerr.New(engineerr.Internal, op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engineerr.New(engineerr.Network, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return engineerr.New(engineerr.Upstream, op, &engineerr.UpstreamError{Status: resp.StatusCode})
	}
	return nil
}

// doWithRetry is the single consolidated retry helper spec §9 calls for:
// up to retryAttempts tries, delay base*2^attempt with +/-10% jitter,
// aborting immediately on context cancellation or any 4xx response.
func (c *Client) doWithRetry(ctx context.Context, op, method, url string, payload io.Reader) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, engineerr.New(engineerr.Network, op, ctx.Err())
		}
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(op).Inc()
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, engineerr.New(engineerr.Network, op, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, payload)
		if err != nil {
			return nil, engineerr.New(engineerr.Internal, op, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = engineerr.New(engineerr.Network, op, err)
			c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("market request failed, retrying")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = engineerr.New(engineerr.Network, op, readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// abort immediately; 4xx is not retryable.
			return nil, engineerr.New(engineerr.Upstream, op, &engineerr.UpstreamError{Status: resp.StatusCode, Body: string(body)})
		}
		// 5xx: retryable.
		lastErr = engineerr.New(engineerr.Upstream, op, &engineerr.UpstreamError{Status: resp.StatusCode, Body: string(body)})
		c.logger.Warn().Int("status", resp.StatusCode).Str("op", op).Int("attempt", attempt).Msg("upstream 5xx, retrying")
	}
	return nil, lastErr
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	return strconv.ParseFloat(s, 64)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
