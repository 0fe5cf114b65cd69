package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/adapters/storage"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

func newJournal(t *testing.T) *storage.Journal {
	t.Helper()
	j, err := storage.NewJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_TradesNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	base := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(ctx, domain.TradeEvent{
		Code: "AAA", Slot: 1, Side: domain.SideBuy, Quantity: 20, Price: 50, OrderID: "o1", Score: 84, At: base,
	}))
	require.NoError(t, j.RecordTrade(ctx, domain.TradeEvent{
		Code: "AAA", Slot: 1, Side: domain.SideSell, Quantity: 6, Price: 55.5, OrderID: "o2",
		Reason: domain.ReasonLadderStep1, RealizedPnL: 33, At: base.Add(90 * time.Minute),
	}))
	require.NoError(t, j.RecordTrade(ctx, domain.TradeEvent{
		Code: "BBB", Slot: 1, Side: domain.SideBuy, Quantity: 3, Price: 10, At: base.Add(-48 * time.Hour),
	}))

	trades, err := j.Trades(ctx, base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, domain.ReasonLadderStep1, trades[0].Reason)
	assert.InDelta(t, 33.0, trades[0].RealizedPnL, 1e-9)
	assert.True(t, trades[0].At.Equal(base.Add(90*time.Minute)))
	assert.NotEmpty(t, trades[0].ID)
	assert.Equal(t, "o1", trades[1].OrderID)

	limited, err := j.Trades(ctx, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJournal_AlertsAndCycles(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)
	now := time.Now().UTC()

	assert.NoError(t, j.RecordAlert(ctx, domain.Alert{
		Level: domain.AlertCritical, Code: "AAA", Kind: domain.KindReconciliationConflict,
		Message: "ledger 20, broker 15", At: now,
	}))
	assert.NoError(t, j.RecordCycle(ctx, domain.CycleSummary{
		StartedAt: now, Duration: 1500 * time.Millisecond, Budget: 1000, Entries: 1, MarketOpen: true,
	}))
}
