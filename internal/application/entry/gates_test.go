package entry_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownHours_Tiers(t *testing.T) {
	cfg := entry.DefaultConfig().Cooldown
	sale := func(r float64) domain.SaleRecord { return domain.SaleRecord{ReturnPct: r} }

	assert.InDelta(t, 12.0, entry.CooldownHours(sale(25), 1, domain.RegimeNeutral, cfg, 0), 1e-9)
	assert.InDelta(t, 9.0, entry.CooldownHours(sale(12), 1, domain.RegimeNeutral, cfg, 0), 1e-9)
	assert.InDelta(t, 6.0, entry.CooldownHours(sale(2), 1, domain.RegimeNeutral, cfg, 0), 1e-9)
	assert.InDelta(t, 4.8, entry.CooldownHours(sale(-8), 1, domain.RegimeNeutral, cfg, 0), 1e-9)
}

func TestCooldownHours_VolatilityAndRegimeShorten(t *testing.T) {
	cfg := entry.DefaultConfig().Cooldown
	sale := domain.SaleRecord{ReturnPct: 12} // 9h base

	assert.InDelta(t, 7.2, entry.CooldownHours(sale, 4, domain.RegimeNeutral, cfg, 0), 1e-9)
	assert.InDelta(t, 4.5, entry.CooldownHours(sale, 7, domain.RegimeNeutral, cfg, 0), 1e-9)
	assert.InDelta(t, 6.3, entry.CooldownHours(sale, 7, domain.RegimeNeutral, cfg, 0.7), 1e-9)
	assert.InDelta(t, 5.4, entry.CooldownHours(sale, 1, domain.RegimeDown, cfg, 0), 1e-9)
	assert.InDelta(t, 9.0, entry.CooldownHours(sale, 1, domain.RegimeStrongUp, cfg, 0), 1e-9)
}

func TestCooldownHours_Clamped(t *testing.T) {
	cfg := entry.DefaultConfig().Cooldown
	cfg.BaseHours = 1
	assert.InDelta(t, 1.0, entry.CooldownHours(domain.SaleRecord{ReturnPct: -1}, 7, domain.RegimeDown, cfg, 0), 1e-9)
	cfg.BaseHours = 10
	assert.InDelta(t, 12.0, entry.CooldownHours(domain.SaleRecord{ReturnPct: 30}, 1, domain.RegimeNeutral, cfg, 0), 1e-9)
}

func TestReentryTarget_Tiers(t *testing.T) {
	assert.InDelta(t, 92.0, entry.ReentryTarget(domain.SaleRecord{Price: 100, ReturnPct: 16}), 1e-9)
	assert.InDelta(t, 95.0, entry.ReentryTarget(domain.SaleRecord{Price: 100, ReturnPct: 11}), 1e-9)
	assert.InDelta(t, 97.0, entry.ReentryTarget(domain.SaleRecord{Price: 100, ReturnPct: 6}), 1e-9)
	assert.InDelta(t, 98.0, entry.ReentryTarget(domain.SaleRecord{Price: 103, EntryPrice: 100, ReturnPct: 3}), 1e-9)
}

func TestReentry_RejectionsAndTarget(t *testing.T) {
	cfg := entry.DefaultConfig()
	cfg.Cooldown.MaxHours = 1
	cfg.Cooldown.MinHours = 1
	e := entry.New(cfg)

	in := domain.NewInstrument("AAA", "Alpha", 3)
	require.NoError(t, in.Open(1, 100, 10, now.Add(-72*time.Hour)))
	_, err := in.ApplySale(1, 10, 112, now.Add(-5*time.Hour), domain.ReasonLadderFinal, domain.Fees{})
	require.NoError(t, err)

	base := entry.Input{
		Instrument: in,
		Snapshot:   domain.Snapshot{RSI: 35, MA5: 110, MA20: 100, PullbackPct: 10, Trend: domain.TrendUp},
		Regime:     domain.RegimeUp,
		Allocation: 3000,
		Now:        now,
	}

	in1 := base
	in1.Snapshot.Price = 113
	assert.Equal(t, "reentry: price above prior sale", e.Evaluate(in1).Reason)

	in2 := base
	in2.Snapshot.Price = 107 // target 112 × 0.95 = 106.4
	assert.Equal(t, "reentry: price above target", e.Evaluate(in2).Reason)

	in3 := base
	in3.Snapshot.Price = 106
	in3.Snapshot.RSI = 66
	assert.Equal(t, "reentry: rsi above ceiling", e.Evaluate(in3).Reason)

	in4 := base
	in4.Snapshot.Price = 106
	d := e.Evaluate(in4)
	require.True(t, d.Execute, d.Reason)
	assert.True(t, d.Reentry)

	in.LastReentryDay = domain.DayKey(now)
	assert.Equal(t, "reentry: already reentered today", e.Evaluate(in4).Reason)
}

func TestReentry_WindowCountsCalendarDays(t *testing.T) {
	cfg := entry.DefaultConfig()
	cfg.Cooldown.MaxHours = 1
	cfg.Cooldown.MinHours = 1
	e := entry.New(cfg)

	soldAt := func(at time.Time) entry.Input {
		in := domain.NewInstrument("AAA", "Alpha", 3)
		require.NoError(t, in.Open(1, 100, 10, at.Add(-72*time.Hour)))
		_, err := in.ApplySale(1, 10, 112, at, domain.ReasonLadderFinal, domain.Fees{})
		require.NoError(t, err)
		return entry.Input{
			Instrument: in,
			Snapshot:   domain.Snapshot{Price: 113, RSI: 35, MA5: 110, MA20: 100, PullbackPct: 10, Trend: domain.TrendUp},
			Regime:     domain.RegimeUp,
			Allocation: 3000,
			Now:        now,
		}
	}

	// yesterday just after midnight, 34.5h ago: still inside the window
	yesterday := time.Date(2026, 4, 13, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, "reentry: price above prior sale", e.Evaluate(soldAt(yesterday)).Reason)

	// two calendar days back, only 38h ago: outside the window
	twoDaysBack := time.Date(2026, 4, 12, 21, 0, 0, 0, time.UTC)
	assert.NotEqual(t, "reentry: price above prior sale", e.Evaluate(soldAt(twoDaysBack)).Reason)
}

func TestRequiredDrop_AdjustmentsAndClamp(t *testing.T) {
	cfg := entry.DefaultConfig().Drawdown
	neutral := domain.NeutralSentiment()
	snap := domain.Snapshot{RSI: 45}

	assert.InDelta(t, 0.06, entry.RequiredDrop(2, snap, domain.RegimeNeutral, neutral, cfg), 1e-9)
	assert.InDelta(t, 0.07, entry.RequiredDrop(3, snap, domain.RegimeNeutral, neutral, cfg), 1e-9)

	oversold := domain.Snapshot{RSI: 25}
	assert.InDelta(t, 0.035, entry.RequiredDrop(2, oversold, domain.RegimeDown, neutral, cfg), 1e-9)

	hot := domain.Snapshot{RSI: 75}
	bad := domain.Sentiment{Decision: domain.SentimentNegative, Percentage: 80}
	assert.InDelta(t, 0.085, entry.RequiredDrop(2, hot, domain.RegimeUp, bad, cfg), 1e-9)

	// Every discount at once would go to 0.02; the floor is half the base.
	good := domain.Sentiment{Decision: domain.SentimentPositive, Percentage: 80}
	deep := domain.Snapshot{RSI: 20, PullbackPct: 20}
	assert.InDelta(t, 0.03, entry.RequiredDrop(2, deep, domain.RegimeStrongDown, good, cfg), 1e-9)
}

func TestDailyCap(t *testing.T) {
	cfg := entry.DefaultConfig().Daily
	assert.Equal(t, 4, entry.DailyCap(1, domain.RegimeNeutral, 0, cfg))
	assert.Equal(t, 5, entry.DailyCap(6, domain.RegimeUp, 1, cfg))
	assert.Equal(t, 6, entry.DailyCap(6, domain.RegimeDown, 3, cfg))
	cfg.Cap = 5
	assert.Equal(t, 5, entry.DailyCap(6, domain.RegimeDown, 3, cfg))
}

func TestReferencePoints(t *testing.T) {
	cfg := entry.DefaultConfig()
	ref := domain.ReferenceMove{Leverage: 2, MovePct: 3, Available: true}

	// Expected +6%, instrument +1%: lagging by 5 points.
	assert.InDelta(t, 10.0, entry.ReferencePoints(1, ref, cfg), 1e-9)
	assert.InDelta(t, 20.0, entry.ReferencePoints(-10, ref, cfg), 1e-9)
	assert.InDelta(t, -8.0, entry.ReferencePoints(10, ref, cfg), 1e-9)

	crash := domain.ReferenceMove{Leverage: 2, MovePct: -4, Available: true}
	assert.InDelta(t, -10.0, entry.ReferencePoints(-20, crash, cfg), 1e-9)

	assert.Zero(t, entry.ReferencePoints(5, domain.ReferenceMove{}, cfg))
}

func TestThreshold_ReferenceBonusLowersIt(t *testing.T) {
	cfg := entry.DefaultConfig()
	assert.InDelta(t, 60.0, entry.Threshold(1, domain.Snapshot{}, 0, cfg), 1e-9)
	assert.InDelta(t, 65.0, entry.Threshold(3, domain.Snapshot{}, 16, cfg), 1e-9)
	assert.InDelta(t, 75.0, entry.Threshold(2, domain.Snapshot{LastStepPct: -5}, 0, cfg), 1e-9)
}
