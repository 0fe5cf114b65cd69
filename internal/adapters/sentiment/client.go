// Package sentiment fetches news-sentiment reads and ages them out.
package sentiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

const (
	defaultBase     = "https://api.sentiment.example.com"
	defaultCacheTTL = time.Hour
	defaultMaxAge   = 24 * time.Hour
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	// CacheTTL is how long a fetched read is reused before asking again.
	CacheTTL time.Duration
	// MaxAge is how old a read may be before it is treated as neutral.
	MaxAge time.Duration
}

type entry struct {
	read      domain.Sentiment
	fetchedAt time.Time
}

// Client implements ports.SentimentProvider.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// NewClient creates a sentiment client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		now:     time.Now,
		cache:   make(map[string]entry),
	}
}

// WithClock overrides the clock. Used by tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Sentiment returns the latest read for code. Reads older than MaxAge come
// back marked stale. When the provider fails and nothing usable is cached
// the neutral read is returned along with the error.
func (c *Client) Sentiment(ctx context.Context, code string) (domain.Sentiment, error) {
	now := c.now()

	c.mu.Lock()
	cached, ok := c.cache[code]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < c.cfg.CacheTTL {
		return c.age(cached.read, now), nil
	}

	read, err := c.fetch(ctx, code)
	if err != nil {
		if ok {
			slog.Warn("sentiment: fetch failed, serving cached read", "code", code, "err", err)
			return c.age(cached.read, now), nil
		}
		return domain.NeutralSentiment(), fmt.Errorf("sentiment.Sentiment %s: %w", code, err)
	}

	c.mu.Lock()
	c.cache[code] = entry{read: read, fetchedAt: now}
	c.mu.Unlock()
	return c.age(read, now), nil
}

func (c *Client) age(s domain.Sentiment, now time.Time) domain.Sentiment {
	if s.UpdatedAt.IsZero() || now.Sub(s.UpdatedAt) > c.cfg.MaxAge {
		s.Stale = true
	}
	return s
}

func (c *Client) fetch(ctx context.Context, code string) (domain.Sentiment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Sentiment{}, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/sentiment/"+url.PathEscape(code), nil)
	if err != nil {
		return domain.Sentiment{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Sentiment{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Sentiment{}, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return parse(body)
}

// parse accepts the read either at the top level or under "data".
func parse(body []byte) (domain.Sentiment, error) {
	if !gjson.ValidBytes(body) {
		return domain.Sentiment{}, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if d := root.Get("data"); d.IsObject() {
		root = d
	}

	decision := domain.SentimentDecision(strings.ToUpper(root.Get("decision").String()))
	switch decision {
	case domain.SentimentPositive, domain.SentimentNegative, domain.SentimentNeutral:
	default:
		return domain.Sentiment{}, fmt.Errorf("unknown decision %q", decision)
	}

	pct := root.Get("percentage").Float()
	if pct < 0 || pct > 100 {
		return domain.Sentiment{}, fmt.Errorf("percentage %.1f out of range", pct)
	}

	s := domain.Sentiment{Decision: decision, Percentage: pct}
	if ts := root.Get("updated_at"); ts.Exists() {
		if t, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			s.UpdatedAt = t
		}
	}
	return s, nil
}
