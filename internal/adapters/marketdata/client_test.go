package marketdata_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/adapters/marketdata"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

const seriesJSON = `{
  "code": "AAA",
  "bars": [
    {"t": "2026-03-03T00:00:00Z", "o": 10.2, "h": 10.6, "l": 10.1, "c": 10.5, "v": 1200},
    {"t": "2026-03-02T00:00:00Z", "o": 10.0, "h": 10.3, "l": 9.9,  "c": 10.2, "v": 900},
    {"t": "2026-03-04T00:00:00Z", "o": 10.5, "h": 10.7, "l": 10.0, "c": 0,    "v": 0}
  ]
}`

func newClient(srv *httptest.Server) *marketdata.Client {
	return marketdata.NewClient(srv.URL, "secret").WithRetryWait(time.Millisecond)
}

func TestSeries_SortsAndDropsEmptyBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/series", r.URL.Path)
		assert.Equal(t, "AAA", r.URL.Query().Get("code"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "120", r.URL.Query().Get("limit"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(seriesJSON))
	}))
	defer srv.Close()

	bars, err := newClient(srv).Series(context.Background(), "AAA", "1d", 120)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 10.2, bars[0].Close, 1e-9)
	assert.InDelta(t, 10.5, bars[1].Close, 1e-9)
	assert.True(t, bars[0].Time.Before(bars[1].Time))
}

func TestSeries_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(seriesJSON))
	}))
	defer srv.Close()

	bars, err := newClient(srv).Series(context.Background(), "AAA", "1d", 120)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSeries_PersistentFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv).Series(context.Background(), "AAA", "1d", 120)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestSeries_EmptyIsDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"AAA","bars":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv).Series(context.Background(), "AAA", "1d", 120)
	assert.True(t, domain.IsKind(err, domain.KindDataUnavailable))
}

func TestCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		w.Write([]byte(`{"code":"AAA","price":10.55,"time":"2026-03-04T14:30:00Z"}`))
	}))
	defer srv.Close()

	px, err := newClient(srv).CurrentPrice(context.Background(), "AAA")
	require.NoError(t, err)
	assert.InDelta(t, 10.55, px, 1e-9)
}

func TestCurrentPrice_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown code", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv).CurrentPrice(context.Background(), "ZZZ")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
