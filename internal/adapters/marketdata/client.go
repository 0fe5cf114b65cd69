// Package marketdata is the HTTP client for the OHLCV and quote provider.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

const (
	defaultBase = "https://api.marketdata.example.com"

	// 60% del límite documentado (10 req/s).
	ratePerSec = 6
	rateBurst  = 3

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client implementa ports.MarketData con rate limiting y retries.
type Client struct {
	http     *http.Client
	base     string
	apiKey   string
	limiter  *rate.Limiter
	waitUnit time.Duration
}

// NewClient crea un Client. Si base está vacío, usa el URL de producción.
func NewClient(base, apiKey string) *Client {
	if base == "" {
		base = defaultBase
	}
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		base:     base,
		apiKey:   apiKey,
		limiter:  rate.NewLimiter(ratePerSec, rateBurst),
		waitUnit: baseRetryWait,
	}
}

// WithRetryWait shortens the backoff unit. Used by tests.
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.waitUnit = d
	return c
}

type barDTO struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

type seriesDTO struct {
	Code string   `json:"code"`
	Bars []barDTO `json:"bars"`
}

type quoteDTO struct {
	Code  string    `json:"code"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Series fetches up to lookback bars at interval, oldest first.
func (c *Client) Series(ctx context.Context, code, interval string, lookback int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(lookback))

	var dto seriesDTO
	if err := c.get(ctx, "/v1/series?"+q.Encode(), &dto); err != nil {
		return nil, domain.NewError(domain.KindTransient, "marketdata.Series", code, err)
	}
	if len(dto.Bars) == 0 {
		return nil, domain.NewError(domain.KindDataUnavailable, "marketdata.Series", code, errors.New("empty series"))
	}

	out := make([]domain.Candle, 0, len(dto.Bars))
	for _, b := range dto.Bars {
		if b.Close <= 0 {
			continue
		}
		out = append(out, domain.Candle{
			Time:   b.Time,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// CurrentPrice fetches the last traded price.
func (c *Client) CurrentPrice(ctx context.Context, code string) (float64, error) {
	var dto quoteDTO
	if err := c.get(ctx, "/v1/quote?code="+url.QueryEscape(code), &dto); err != nil {
		return 0, domain.NewError(domain.KindTransient, "marketdata.CurrentPrice", code, err)
	}
	if dto.Price <= 0 {
		return 0, domain.NewError(domain.KindDataUnavailable, "marketdata.CurrentPrice", code,
			fmt.Errorf("non-positive price %v", dto.Price))
	}
	return dto.Price, nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("marketdata: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.waitUnit
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
