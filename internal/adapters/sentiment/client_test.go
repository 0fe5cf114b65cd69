package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

func TestParse_Shapes(t *testing.T) {
	s, err := parse([]byte(`{"data":{"decision":"positive","percentage":72.5,"updated_at":"2026-03-04T09:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.SentimentPositive, s.Decision)
	assert.InDelta(t, 72.5, s.Percentage, 1e-9)
	assert.False(t, s.UpdatedAt.IsZero())

	s, err = parse([]byte(`{"decision":"NEGATIVE","percentage":40}`))
	require.NoError(t, err)
	assert.Equal(t, domain.SentimentNegative, s.Decision)

	_, err = parse([]byte(`{"decision":"MAYBE","percentage":40}`))
	assert.Error(t, err)
	_, err = parse([]byte(`{"decision":"POSITIVE","percentage":140}`))
	assert.Error(t, err)
	_, err = parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestSentiment_CachesAndAges(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/sentiment/AAA", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Write([]byte(`{"decision":"POSITIVE","percentage":80,"updated_at":"2026-03-04T09:00:00Z"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", CacheTTL: time.Hour, MaxAge: 6 * time.Hour}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	s, err := c.Sentiment(ctx, "AAA")
	require.NoError(t, err)
	assert.False(t, s.Stale)
	assert.InDelta(t, 0.8, s.Signed(), 1e-9)

	now = now.Add(30 * time.Minute)
	_, err = c.Sentiment(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "served from cache")

	now = now.Add(6 * time.Hour)
	s, err = c.Sentiment(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, s.Stale, "read older than max age")
	assert.Zero(t, s.Signed())
}

func TestSentiment_FailureFallsBackToNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewClient(Config{BaseURL: srv.URL}).Sentiment(context.Background(), "AAA")
	require.Error(t, err)
	assert.Equal(t, domain.SentimentNeutral, s.Decision)
	assert.True(t, s.Stale)
}
