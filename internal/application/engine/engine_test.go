package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/splitbot/internal/adapters/paper"
	"github.com/alejandrodnm/splitbot/internal/adapters/storage"
	"github.com/alejandrodnm/splitbot/internal/application/allocator"
	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

// --- fakes ---

type memStore struct {
	mu    sync.Mutex
	l     *domain.Ledger
	saves int
	fail  bool
}

func (s *memStore) Load(_ context.Context) (*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return domain.NewLedger(), nil
	}
	return s.l.Clone(), nil
}

func (s *memStore) Save(_ context.Context, l *domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saves++
	s.l = l.Clone()
	return nil
}

type fakeMarket struct {
	series map[string][]domain.Candle
	quotes map[string]float64
}

func (m *fakeMarket) Series(_ context.Context, code, _ string, _ int) ([]domain.Candle, error) {
	bars, ok := m.series[code]
	if !ok {
		return nil, domain.NewError(domain.KindDataUnavailable, "fake.Series", code, errors.New("no data"))
	}
	return bars, nil
}

func (m *fakeMarket) CurrentPrice(_ context.Context, code string) (float64, error) {
	if px, ok := m.quotes[code]; ok {
		return px, nil
	}
	bars := m.series[code]
	if len(bars) == 0 {
		return 0, errors.New("no quote")
	}
	return bars[len(bars)-1].Close, nil
}

// flatThen builds 30 daily bars at 100 ending with one bar at last.
func flatThen(now time.Time, last float64) []domain.Candle {
	bars := make([]domain.Candle, 30)
	for i := range bars {
		px := 100.0
		if i == len(bars)-1 {
			px = last
		}
		bars[i] = domain.Candle{
			Time:  now.AddDate(0, 0, i-len(bars)+1),
			Open:  px,
			High:  px,
			Low:   px,
			Close: px,
		}
	}
	return bars
}

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type harness struct {
	bot    *Bot
	broker *paper.Broker
	store  *memStore
	market *fakeMarket
	clock  *time.Time
}

func newHarness(t *testing.T, budget float64, seed func(l *domain.Ledger)) *harness {
	t.Helper()
	now := t0
	clock := func() time.Time { return now }

	broker := paper.New(paper.Config{Cash: 100000}).WithClock(clock)
	store := &memStore{}
	if seed != nil {
		l := domain.NewLedger()
		seed(l)
		store.l = l
	}
	market := &fakeMarket{series: map[string][]domain.Candle{}, quotes: map[string]float64{}}

	bot := New(Config{
		Currency:        "USD",
		Instruments:     []InstrumentSpec{{Code: "AAA", Name: "Alpha", Weight: 1}},
		ConfirmInterval: time.Millisecond,
		ConfirmTimeout:  3 * time.Millisecond,
	}, Deps{
		Broker:    broker,
		Market:    market,
		Store:     store,
		Allocator: allocator.New(allocator.Config{BaseBudget: budget, Currency: "USD"}, broker),
	}).
		WithClock(clock).
		WithSleep(func(context.Context, time.Duration) error { return nil })

	return &harness{bot: bot, broker: broker, store: store, market: market, clock: &now}
}

func (h *harness) setPrice(px float64) {
	h.market.series["AAA"] = flatThen(*h.clock, px)
	h.broker.SetPrice("AAA", px)
}

func oneTranche(l *domain.Ledger) {
	in := l.Ensure("AAA", "Alpha", domain.DefaultSlots)
	_ = in.Open(1, 100, 100, t0.AddDate(0, 0, -10))
}

// foreignBroker reports every execution under a different client id.
type foreignBroker struct {
	*paper.Broker
}

func (f foreignBroker) OrderHistory(ctx context.Context, q domain.OrderQuery) ([]domain.OrderFill, error) {
	fills, err := f.Broker.OrderHistory(ctx, q)
	for i := range fills {
		fills[i].ClientID = "someone-else"
	}
	return fills, err
}

// --- tests ---

func TestRunCycle_LadderStepSells(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	h.broker.SetHolding("AAA", 100, 100)
	h.setPrice(112)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.True(t, res.MarketOpen)

	require.Len(t, res.Exits, 1)
	assert.Equal(t, int64(30), res.Exits[0].Quantity)
	assert.Equal(t, domain.ReasonLadderStep1, res.Exits[0].Reason)
	assert.InDelta(t, 360.0, res.Exits[0].RealizedPnL, 1e-6)

	tr := h.bot.Ledger().Get("AAA").Slot(1)
	assert.Equal(t, int64(70), tr.CurrentQty)
	assert.Equal(t, domain.StageFirstTrim, tr.Stage)
	assert.InDelta(t, 12.0, tr.PeakReturn, 1e-9)

	// the stored ledger matches memory
	stored, _ := h.store.Load(ctx)
	assert.Equal(t, int64(70), stored.Get("AAA").Slot(1).CurrentQty)

	require.NotNil(t, res.Reconcile)
	assert.Equal(t, reconcile.InSync, res.Reconcile.Results[0].Outcome)
}

func TestRunCycle_PendingSellResolvedNextTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	h.broker.SetHolding("AAA", 100, 100)
	h.setPrice(112)
	h.broker.HoldFills(true)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Exits)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, domain.SideSell, res.Pending[0].Side)
	assert.Equal(t, int64(100), h.bot.Ledger().Get("AAA").Slot(1).CurrentQty)
	assert.Equal(t, reconcile.Deferred, res.Reconcile.Results[0].Outcome)

	h.broker.HoldFills(false)
	res, err = h.bot.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, res.Exits, 1)
	assert.Equal(t, int64(30), res.Exits[0].Quantity)
	assert.Empty(t, res.Pending)
	assert.Equal(t, int64(70), h.bot.Ledger().Get("AAA").Slot(1).CurrentQty)
}

func TestRunCycle_FillMatchedByClientID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	h.broker.SetHolding("AAA", 100, 100)
	h.setPrice(112)
	h.broker.HoldFills(true)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	p := res.Pending[0]
	require.NotEmpty(t, p.ClientID)

	fills, err := h.broker.OrderHistory(ctx, domain.OrderQuery{ClientID: p.ClientID})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, p.OrderID, fills[0].OrderID)

	// an execution echoing another client id is not booked
	h.bot.deps.Broker = foreignBroker{h.broker}
	h.broker.HoldFills(false)
	res, err = h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Exits)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, p.OrderID, res.Pending[0].OrderID)
	assert.Equal(t, int64(100), h.bot.Ledger().Get("AAA").Slot(1).CurrentQty)
}

func TestRunCycle_ExpiredPendingDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	h.broker.SetHolding("AAA", 100, 100)
	h.setPrice(112)
	h.broker.HoldFills(true)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	first := res.Pending[0].OrderID

	*h.clock = h.clock.Add(31 * time.Minute)
	h.setPrice(112)

	res, err = h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Exits)
	// the stale order is gone and a fresh one took its place
	require.Len(t, res.Pending, 1)
	assert.NotEqual(t, first, res.Pending[0].OrderID)
	assert.Equal(t, int64(100), h.bot.Ledger().Get("AAA").Slot(1).CurrentQty)
}

func TestBook_RejectedFillSurfacesSaveFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	require.NoError(t, h.bot.Load(ctx))

	p := domain.PendingOrder{
		OrderHandle: domain.OrderHandle{OrderID: "ord-1", Code: "AAA", Side: domain.SideSell, Quantity: 30, Price: 112},
		Slot:        1,
		Reason:      domain.ReasonLadderStep1,
	}
	bad := domain.OrderFill{OrderID: "ord-1", Code: "AAA", Side: domain.SideSell, Status: domain.OrderFilled, FillPrice: 112}

	err := h.bot.book(ctx, p, bad, &CycleResult{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	h.store.fail = true
	err = h.bot.book(ctx, p, bad, &CycleResult{})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindPersistence))
	assert.Contains(t, err.Error(), "no executed quantity")
}

func TestRunCycle_StopLossNewestSlotFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000, func(l *domain.Ledger) {
		in := l.Ensure("AAA", "Alpha", domain.DefaultSlots)
		_ = in.Open(1, 100, 100, t0.AddDate(0, 0, -20))
		_ = in.Open(2, 90, 50, t0.AddDate(0, 0, -5))
	})
	h.broker.SetHolding("AAA", 150, 96.67)
	h.setPrice(60)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	require.Len(t, res.Exits, 2)
	assert.Equal(t, 2, res.Exits[0].Slot)
	assert.Equal(t, int64(50), res.Exits[0].Quantity)
	assert.Equal(t, 1, res.Exits[1].Slot)
	assert.Equal(t, int64(100), res.Exits[1].Quantity)
	for _, f := range res.Exits {
		assert.Equal(t, domain.ReasonStopLoss, f.Reason)
	}

	in := h.bot.Ledger().Get("AAA")
	assert.True(t, in.IsFlat())
	assert.InDelta(t, -1500-4000, in.RealizedPnL, 1e-6)
	assert.Empty(t, h.bot.Holdings())
}

func TestRunCycle_MarketClosedOnlyReconciles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, nil)
	h.broker.SetMarketOpen(false)
	h.broker.SetHolding("AAA", 50, 10)

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, res.MarketOpen)
	assert.Empty(t, res.Decisions)

	require.NotNil(t, res.Reconcile)
	assert.Equal(t, reconcile.Adopted, res.Reconcile.Results[0].Outcome)

	tr := h.bot.Ledger().Get("AAA").Slot(1)
	assert.Equal(t, int64(50), tr.CurrentQty)
	assert.Equal(t, 10.0, tr.EntryPrice)
	assert.Equal(t, []domain.Holding{{Code: "AAA", Quantity: 50, AvgPrice: 10}}, h.bot.Holdings())
}

func TestRunCycle_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, oneTranche)
	h.broker.SetHolding("AAA", 100, 100)
	h.setPrice(112)
	require.NoError(t, h.bot.Load(ctx))
	h.store.fail = true

	res, err := h.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Exits)

	var persistence int
	for _, e := range res.Errors {
		if domain.IsKind(e, domain.KindPersistence) {
			persistence++
		}
	}
	assert.Positive(t, persistence)

	var critical bool
	for _, a := range res.Alerts {
		critical = critical || (a.Level == domain.AlertCritical && a.Kind == domain.KindPersistence)
	}
	assert.True(t, critical)

	tr := h.bot.Ledger().Get("AAA").Slot(1)
	assert.Equal(t, int64(100), tr.CurrentQty)
	assert.Equal(t, domain.StageOpen, tr.Stage)
	assert.Zero(t, tr.PeakReturn)
}

func TestBuy_BooksFillAndJournals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, nil)
	j, err := storage.NewJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	h.bot.deps.Journal = j
	h.setPrice(50)
	require.NoError(t, h.bot.Load(ctx))

	res := &CycleResult{StartedAt: t0}
	d := entry.Decision{Code: "AAA", Slot: 1, Execute: true, Price: 50, Quantity: 20, Reentry: true}
	require.NoError(t, h.bot.buy(ctx, d, res))

	require.Len(t, res.Entries, 1)
	assert.Equal(t, 50.0, res.Entries[0].Price)

	in := h.bot.Ledger().Get("AAA")
	tr := in.Slot(1)
	assert.True(t, tr.Occupied)
	assert.Equal(t, int64(20), tr.CurrentQty)
	assert.Equal(t, 50.0, tr.EntryPrice)
	assert.Equal(t, 1, in.DailyBuys.Value(t0))
	assert.Equal(t, 1, h.bot.Ledger().DailyTrades.Value(t0))
	assert.Equal(t, domain.DayKey(t0), in.LastReentryDay)

	trades, err := j.Trades(ctx, t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, int64(20), trades[0].Quantity)
}

func TestBuy_PriceJumpAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1e6, nil)
	h.setPrice(50)
	h.market.quotes["AAA"] = 52
	require.NoError(t, h.bot.Load(ctx))

	res := &CycleResult{StartedAt: t0}
	d := entry.Decision{Code: "AAA", Slot: 1, Execute: true, Price: 50, Quantity: 20}
	require.NoError(t, h.bot.buy(ctx, d, res))

	assert.Empty(t, res.Entries)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "price moved")
	assert.True(t, h.bot.Ledger().Get("AAA").IsFlat())
	assert.Empty(t, h.bot.PendingOrders())
}

func TestCushion(t *testing.T) {
	assert.Equal(t, 50.5, cushion(50, 0.01))
	assert.Equal(t, 110.88, cushion(112, -0.01))
}

func TestBot_AccessorsBeforeLoad(t *testing.T) {
	h := newHarness(t, 1e6, nil)
	assert.Nil(t, h.bot.Ledger())
	assert.Nil(t, h.bot.Holdings())
	assert.Nil(t, h.bot.PendingOrders())
	assert.Zero(t, h.bot.RealizedPnL())
}

func TestMeanVolatility(t *testing.T) {
	assert.Zero(t, meanVolatility(nil))
	markets := map[string]market{
		"AAA": {snap: domain.Snapshot{Volatility: 2}},
		"BBB": {snap: domain.Snapshot{Volatility: 6}},
	}
	assert.InDelta(t, 4.0, meanVolatility(markets), 1e-9)
}
