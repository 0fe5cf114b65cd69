package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/splitbot/internal/analysis"
	"github.com/alejandrodnm/splitbot/internal/application/allocator"
	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/exit"
	"github.com/alejandrodnm/splitbot/internal/domain"
)

// market is the per-instrument data gathered at the start of a tick.
type market struct {
	snap      domain.Snapshot
	sentiment domain.Sentiment
	reference domain.ReferenceMove
}

// RunCycle executes one tick. Orchestrates: pending → market hours → data →
// allocation → entries and exits per instrument → reconciliation → reporting.
// Per-instrument failures are collected in the result; an error is returned
// only when the ledger cannot be loaded.
func (b *Bot) RunCycle(ctx context.Context) (*CycleResult, error) {
	if b.ledger == nil {
		if err := b.Load(ctx); err != nil {
			return nil, err
		}
	}
	res := &CycleResult{StartedAt: b.now(), Regime: domain.RegimeNeutral}
	defer b.finish(ctx, res)

	// 1. Pending orders from earlier ticks
	b.resolvePending(ctx, res)

	// 2. Market hours
	open, err := b.deps.Broker.IsMarketOpen(ctx)
	if err != nil {
		b.fail(res, domain.NewError(domain.KindTransient, "engine.RunCycle", "", fmt.Errorf("market hours: %w", err)))
	}
	res.MarketOpen = open && err == nil
	if !res.MarketOpen {
		slog.Info("engine: market closed, skipping decisions")
		b.periodicReconcile(ctx, res)
		return res, nil
	}

	// 3. Market data
	res.Regime, res.MarketVolatility = b.regime(ctx, res)
	markets := b.gather(ctx, res)
	if res.MarketVolatility == 0 {
		res.MarketVolatility = meanVolatility(markets)
	}

	// 4. Peaks and drawdown clocks
	if err := b.commit(ctx, "engine.observe", func(l *domain.Ledger) error {
		for code, m := range markets {
			if in := l.Get(code); in != nil {
				in.ObservePrice(m.snap.Price, res.StartedAt)
			}
		}
		return nil
	}); err != nil {
		b.fail(res, err)
	}

	// 5. Capital allocation
	res.Budget = b.deps.Allocator.Compute(ctx, b.allocatorInput(markets))
	b.deps.Metrics.SetBudget(res.Budget.Amount)

	// 6. Breadth: how many instruments would buy with the daily cap lifted
	breadth := 0
	for _, spec := range b.cfg.Instruments {
		m, ok := markets[spec.Code]
		if !ok {
			continue
		}
		if d := b.deps.Entry.Evaluate(b.entryInput(spec, m, res, 0, 0)); d.Execute {
			breadth++
		}
	}

	// 7. Per instrument: entry, then exits
	for _, spec := range b.cfg.Instruments {
		m, ok := markets[spec.Code]
		if !ok {
			continue
		}
		if err := b.processInstrument(ctx, spec, m, breadth, res); err != nil {
			b.fail(res, err)
		}
	}

	// 8. Periodic reconciliation
	b.periodicReconcile(ctx, res)
	return res, nil
}

func (b *Bot) processInstrument(ctx context.Context, spec InstrumentSpec, m market, breadth int, res *CycleResult) error {
	code := spec.Code
	if _, pending := b.ledger.PendingFor(code); pending {
		slog.Debug("engine: order pending, instrument skipped", "code", code)
		return nil
	}

	in := b.entryInput(spec, m, res, b.ledger.DailyTrades.Value(res.StartedAt), breadth)
	d := b.deps.Entry.Evaluate(in)
	res.Decisions = append(res.Decisions, d)
	if d.Execute {
		slog.Info("engine: entry signal",
			"code", code,
			"slot", d.Slot,
			"score", fmt.Sprintf("%.1f", d.Score.Total()),
			"threshold", d.Threshold,
			"qty", d.Quantity,
		)
		if err := b.buy(ctx, d, res); err != nil {
			return err
		}
		if _, pending := b.ledger.PendingFor(code); pending {
			return nil
		}
	}

	inst := b.ledger.Get(code)
	if inst == nil || inst.IsFlat() {
		return nil
	}
	plan := b.deps.Exit.Evaluate(exit.Input{
		Instrument: inst,
		Snapshot:   m.snap,
		Regime:     res.Regime,
		Allocation: res.Budget.ForInstrument(spec.Weight),
		Now:        res.StartedAt,
	})
	b.deps.Metrics.SetUtilization(code, plan.Utilization)
	if len(plan.Orders) == 0 {
		return nil
	}
	res.Plans = append(res.Plans, plan)
	return b.sell(ctx, plan, m.snap.Price, res)
}

func (b *Bot) entryInput(spec InstrumentSpec, m market, res *CycleResult, tradesToday, breadth int) entry.Input {
	return entry.Input{
		Instrument:                b.ledger.Get(spec.Code),
		Snapshot:                  m.snap,
		Regime:                    res.Regime,
		Sentiment:                 m.sentiment,
		Reference:                 m.reference,
		Allocation:                res.Budget.ForInstrument(spec.Weight),
		HighVolCooldownMultiplier: spec.HighVolCooldownMultiplier,
		TradesToday:               tradesToday,
		MarketVolatility:          res.MarketVolatility,
		Breadth:                   breadth,
		Now:                       res.StartedAt,
	}
}

// regime classifies the market from the benchmark and measures its
// volatility. Missing data reads as neutral with zero volatility.
func (b *Bot) regime(ctx context.Context, res *CycleResult) (domain.Regime, float64) {
	if b.cfg.Benchmark == "" {
		return domain.RegimeNeutral, 0
	}
	bars, err := b.deps.Market.Series(ctx, b.cfg.Benchmark, b.cfg.Interval, b.cfg.Lookback)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("benchmark %s unavailable: %v", b.cfg.Benchmark, err))
		return domain.RegimeNeutral, 0
	}
	closes := make([]float64, len(bars))
	for i, c := range bars {
		closes[i] = c.Close
	}
	return analysis.Regime(bars), analysis.Volatility(closes, b.cfg.Analysis.VolatilityWindow)
}

func meanVolatility(markets map[string]market) float64 {
	if len(markets) == 0 {
		return 0
	}
	var sum float64
	for _, m := range markets {
		sum += m.snap.Volatility
	}
	return sum / float64(len(markets))
}

// gather builds snapshots for every instrument. Instruments whose data is
// missing or stale are skipped for this tick.
func (b *Bot) gather(ctx context.Context, res *CycleResult) map[string]market {
	out := make(map[string]market, len(b.cfg.Instruments))
	for _, spec := range b.cfg.Instruments {
		bars, err := b.deps.Market.Series(ctx, spec.Code, b.cfg.Interval, b.cfg.Lookback)
		if err != nil {
			b.fail(res, err)
			continue
		}
		snap, err := analysis.Snapshot(spec.Code, bars, b.cfg.Analysis, res.StartedAt)
		if err != nil {
			b.fail(res, err)
			continue
		}

		m := market{snap: snap, sentiment: domain.NeutralSentiment()}
		if b.deps.Sentiment != nil {
			s, err := b.deps.Sentiment.Sentiment(ctx, spec.Code)
			if err != nil {
				slog.Debug("engine: sentiment unavailable, using neutral", "code", spec.Code, "err", err)
			}
			m.sentiment = s
		}
		if spec.ReferenceCode != "" {
			m.reference = b.reference(ctx, spec)
		}
		out[spec.Code] = m
	}
	return out
}

func (b *Bot) reference(ctx context.Context, spec InstrumentSpec) domain.ReferenceMove {
	ref := domain.ReferenceMove{Code: spec.ReferenceCode, Leverage: spec.ReferenceLeverage}
	bars, err := b.deps.Market.Series(ctx, spec.ReferenceCode, b.cfg.Interval, b.cfg.Analysis.MoveLookback+1)
	if err != nil || len(bars) <= b.cfg.Analysis.MoveLookback {
		return ref
	}
	closes := make([]float64, len(bars))
	for i, c := range bars {
		closes[i] = c.Close
	}
	ref.MovePct = analysis.MovePct(closes, b.cfg.Analysis.MoveLookback)
	ref.Available = true
	return ref
}

// allocatorInput values the bot's own holdings at the tick's prices.
func (b *Bot) allocatorInput(markets map[string]market) allocator.Input {
	in := allocator.Input{
		CostBasis:   b.ledger.CostBasis(),
		RealizedPnL: b.ledger.RealizedPnL(),
	}
	for _, inst := range b.ledger.Instruments {
		qty := inst.HeldQty()
		if qty == 0 {
			continue
		}
		px := inst.AvgEntryPrice()
		if m, ok := markets[inst.Code]; ok {
			px = m.snap.Price
		}
		in.MarketValue += px * float64(qty)
	}
	return in
}

func (b *Bot) periodicReconcile(ctx context.Context, res *CycleResult) {
	if !b.lastReconcile.IsZero() && res.StartedAt.Sub(b.lastReconcile) < b.cfg.ReconcileEvery {
		return
	}
	rep, err := b.Reconcile(ctx)
	if err != nil {
		b.fail(res, err)
		return
	}
	res.Reconcile = &rep
	res.Alerts = append(res.Alerts, rep.Alerts()...)
}

// fail records a tick error. Nothing here is fatal.
func (b *Bot) fail(res *CycleResult, err error) {
	kind := domain.KindOf(err)
	res.Errors = append(res.Errors, err)
	b.deps.Metrics.Error(kind.String())

	var de *domain.Error
	code := ""
	if errors.As(err, &de) {
		code = de.Code
	}
	switch kind {
	case domain.KindDataUnavailable:
		slog.Warn("engine: data unavailable, instrument skipped", "code", code, "err", err)
	case domain.KindPersistence:
		slog.Error("engine: persistence failure", "err", err)
		res.Alerts = append(res.Alerts, domain.Alert{
			Level: domain.AlertCritical, Code: code, Kind: kind, Message: err.Error(), At: b.now(),
		})
	default:
		slog.Warn("engine: tick error", "kind", kind, "code", code, "err", err)
	}
}

// finish publishes the tick summary.
func (b *Bot) finish(ctx context.Context, res *CycleResult) {
	res.Duration = b.now().Sub(res.StartedAt)
	res.Pending = b.PendingOrders()

	b.deps.Metrics.SetPending(len(res.Pending))
	b.deps.Metrics.SetRealizedPnL(b.RealizedPnL())
	b.deps.Metrics.ObserveCycle(res.Duration.Seconds())

	for _, a := range res.Alerts {
		if a.Kind == domain.KindPersistence {
			b.notify(ctx, a)
		}
	}

	if b.deps.Journal != nil {
		if err := b.deps.Journal.RecordCycle(ctx, domain.CycleSummary{
			StartedAt:   res.StartedAt,
			Duration:    res.Duration,
			Budget:      res.Budget.Amount,
			Entries:     len(res.Entries),
			Exits:       len(res.Exits),
			Errors:      len(res.Errors),
			MarketOpen:  res.MarketOpen,
			RealizedPnL: b.RealizedPnL(),
		}); err != nil {
			slog.Warn("engine: journal cycle failed", "err", err)
		}
	}

	codes := make([]string, 0, len(res.Entries)+len(res.Exits))
	for _, f := range res.Entries {
		codes = append(codes, f.Code)
	}
	for _, f := range res.Exits {
		codes = append(codes, f.Code)
	}
	sort.Strings(codes)
	slog.Info("engine: cycle done",
		"market_open", res.MarketOpen,
		"regime", res.Regime,
		"budget", fmt.Sprintf("%.2f", res.Budget.Amount),
		"entries", len(res.Entries),
		"exits", len(res.Exits),
		"pending", len(res.Pending),
		"errors", len(res.Errors),
		"traded", codes,
		"duration", res.Duration.Round(1e6),
	)
}
