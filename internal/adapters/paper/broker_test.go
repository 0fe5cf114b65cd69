package paper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/adapters/paper"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

func TestBroker_BuyFillsAtQuoteBelowLimit(t *testing.T) {
	ctx := context.Background()
	b := paper.New(paper.Config{Cash: 10_000})
	b.SetPrice("AAA", 50)

	h, err := b.PlaceLimitBuy(ctx, "cid-1", "AAA", 20, 50.5)
	require.NoError(t, err)
	assert.NotEmpty(t, h.OrderID)
	assert.Equal(t, "cid-1", h.ClientID)

	fills, err := b.OrderHistory(ctx, domain.OrderQuery{OrderID: h.OrderID})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "cid-1", fills[0].ClientID)
	assert.Equal(t, domain.OrderFilled, fills[0].Status)
	assert.InDelta(t, 50.0, fills[0].FillPrice, 1e-9)
	assert.Equal(t, int64(20), fills[0].FillQty)

	holdings, err := b.Holdings(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, domain.Holding{Code: "AAA", Quantity: 20, AvgPrice: 50}, holdings[0])

	bal, err := b.Balance(ctx, "USD")
	require.NoError(t, err)
	assert.InDelta(t, 9_000.0, bal.Cash, 1e-6)
	assert.InDelta(t, 10_000.0, bal.Total, 1e-6)
}

func TestBroker_HeldOrderStaysOpen(t *testing.T) {
	ctx := context.Background()
	b := paper.New(paper.Config{Cash: 1_000})
	b.SetPrice("AAA", 10)
	b.HoldFills(true)

	h, err := b.PlaceLimitBuy(ctx, "", "AAA", 5, 10)
	require.NoError(t, err)
	open, err := b.OrderHistory(ctx, domain.OrderQuery{Code: "AAA", Status: domain.OrderOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)

	bal, err := b.Balance(ctx, "USD")
	require.NoError(t, err)
	assert.InDelta(t, 950.0, bal.Cash, 1e-9, "cash is reserved while the order is open")
	assert.InDelta(t, 1_000.0, bal.Total, 1e-9)

	b.HoldFills(false)
	filled, err := b.OrderHistory(ctx, domain.OrderQuery{OrderID: h.OrderID, Status: domain.OrderFilled})
	require.NoError(t, err)
	assert.Len(t, filled, 1)
}

func TestBroker_LatencyDelaysFill(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	b := paper.New(paper.Config{Cash: 1_000, Latency: time.Minute}).
		WithClock(func() time.Time { return now })
	b.SetPrice("AAA", 10)

	_, err := b.PlaceLimitBuy(ctx, "", "AAA", 5, 10)
	require.NoError(t, err)
	hs, _ := b.Holdings(ctx, "USD")
	assert.Empty(t, hs)

	now = now.Add(2 * time.Minute)
	hs, _ = b.Holdings(ctx, "USD")
	require.Len(t, hs, 1)
	assert.Equal(t, int64(5), hs[0].Quantity)
}

func TestBroker_SellRules(t *testing.T) {
	ctx := context.Background()
	b := paper.New(paper.Config{Cash: 0, Fees: domain.Fees{TaxRate: 0.01}})
	b.SetHolding("AAA", 10, 8)
	b.SetPrice("AAA", 10)

	_, err := b.PlaceLimitSell(ctx, "", "AAA", 11, 9.9)
	assert.ErrorIs(t, err, paper.ErrInsufficientShare)

	_, err = b.PlaceLimitSell(ctx, "", "AAA", 10, 9.9)
	require.NoError(t, err)
	hs, _ := b.Holdings(ctx, "USD")
	assert.Empty(t, hs)

	bal, _ := b.Balance(ctx, "USD")
	assert.InDelta(t, 99.0, bal.Cash, 1e-9)
}

func TestBroker_RejectsWhenClosedOrBroke(t *testing.T) {
	ctx := context.Background()
	b := paper.New(paper.Config{Cash: 100})
	b.SetPrice("AAA", 10)

	_, err := b.PlaceLimitBuy(ctx, "", "AAA", 20, 10)
	assert.ErrorIs(t, err, paper.ErrInsufficientCash)

	b.SetMarketOpen(false)
	open, _ := b.IsMarketOpen(ctx)
	assert.False(t, open)
	_, err = b.PlaceLimitBuy(ctx, "", "AAA", 1, 10)
	assert.ErrorIs(t, err, paper.ErrMarketClosed)
}

func TestBroker_ClientIDs(t *testing.T) {
	ctx := context.Background()
	b := paper.New(paper.Config{Cash: 1_000})
	b.SetPrice("AAA", 10)

	_, err := b.PlaceLimitBuy(ctx, "cid-a", "AAA", 1, 10)
	require.NoError(t, err)
	_, err = b.PlaceLimitBuy(ctx, "cid-b", "AAA", 2, 10)
	require.NoError(t, err)

	_, err = b.PlaceLimitBuy(ctx, "cid-a", "AAA", 1, 10)
	assert.ErrorIs(t, err, paper.ErrDuplicateClientID)

	fills, err := b.OrderHistory(ctx, domain.OrderQuery{ClientID: "cid-b"})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(2), fills[0].FillQty)
}
