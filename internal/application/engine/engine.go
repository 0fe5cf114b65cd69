// Package engine runs the split bot: one explicit Bot value owns the ledger,
// the decision engines and every port, and RunCycle advances it by one tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/splitbot/internal/analysis"
	"github.com/alejandrodnm/splitbot/internal/application/allocator"
	"github.com/alejandrodnm/splitbot/internal/application/entry"
	"github.com/alejandrodnm/splitbot/internal/application/exit"
	"github.com/alejandrodnm/splitbot/internal/application/reconcile"
	"github.com/alejandrodnm/splitbot/internal/domain"
	"github.com/alejandrodnm/splitbot/internal/metrics"
	"github.com/alejandrodnm/splitbot/internal/ports"
)

const (
	defaultInterval        = "1d"
	defaultLookback        = 120
	defaultCushion         = 0.01
	defaultPriceJumpLimit  = 0.03
	defaultFillTolerance   = 0.03
	defaultConfirmInterval = 2 * time.Second
	defaultConfirmTimeout  = 30 * time.Second
	defaultPendingMaxAge   = 30 * time.Minute
	defaultReconcileEvery  = time.Hour
)

// InstrumentSpec is one tradable instrument the bot manages.
type InstrumentSpec struct {
	Code   string
	Name   string
	Weight float64
	// HighVolCooldownMultiplier overrides the high-volatility cooldown band
	// when positive.
	HighVolCooldownMultiplier float64
	// ReferenceCode is a benchmark the instrument tracks with leverage.
	ReferenceCode     string
	ReferenceLeverage float64
}

// Config holds the bot's execution settings.
type Config struct {
	Currency    string
	Slots       int
	Benchmark   string
	Interval    string
	Lookback    int
	Instruments []InstrumentSpec
	Fees        domain.Fees

	BuyCushion     float64
	SellCushion    float64
	PriceJumpLimit float64
	FillTolerance  float64

	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
	PendingMaxAge   time.Duration
	ReconcileEvery  time.Duration

	Analysis analysis.Options
}

func (c *Config) fill() {
	if c.Slots <= 0 {
		c.Slots = domain.DefaultSlots
	}
	if c.Interval == "" {
		c.Interval = defaultInterval
	}
	if c.Lookback <= 0 {
		c.Lookback = defaultLookback
	}
	if c.BuyCushion <= 0 {
		c.BuyCushion = defaultCushion
	}
	if c.SellCushion <= 0 {
		c.SellCushion = defaultCushion
	}
	if c.PriceJumpLimit <= 0 {
		c.PriceJumpLimit = defaultPriceJumpLimit
	}
	if c.FillTolerance <= 0 {
		c.FillTolerance = defaultFillTolerance
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = defaultConfirmInterval
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = defaultPendingMaxAge
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = defaultReconcileEvery
	}
	if c.Analysis.RSIPeriod <= 0 {
		maxAge := c.Analysis.MaxAge
		c.Analysis = analysis.DefaultOptions()
		c.Analysis.MaxAge = maxAge
	}
	for i := range c.Instruments {
		if c.Instruments[i].Weight <= 0 {
			c.Instruments[i].Weight = 1 / float64(len(c.Instruments))
		}
	}
}

// Deps are the collaborators the bot drives. Sentiment, Journal, Notifier
// and Metrics are optional.
type Deps struct {
	Broker     ports.Broker
	Market     ports.MarketData
	Sentiment  ports.SentimentProvider
	Store      ports.LedgerStore
	Journal    ports.Journal
	Notifier   ports.Notifier
	Metrics    *metrics.Metrics
	Allocator  *allocator.Allocator
	Entry      *entry.Engine
	Exit       *exit.Engine
	Reconciler *reconcile.Service
}

// Fill is a confirmed execution booked into the ledger.
type Fill struct {
	Code        string
	Slot        int
	Side        domain.Side
	Quantity    int64
	Price       float64
	Reason      domain.ExitReason
	RealizedPnL float64
	OrderID     string
}

// CycleResult contains everything produced by one tick.
type CycleResult struct {
	StartedAt  time.Time
	Duration   time.Duration
	MarketOpen bool
	Regime     domain.Regime
	// MarketVolatility is the tick-wide volatility the daily cap is sized
	// from: the benchmark's, or the mean across instruments without one.
	MarketVolatility float64
	Budget           allocator.Budget
	Decisions        []entry.Decision
	Plans            []exit.Plan
	Entries          []Fill
	Exits            []Fill
	Pending          []domain.PendingOrder
	Reconcile        *reconcile.Report
	Alerts           []domain.Alert
	Warnings         []string
	Errors           []error
}

// Bot is the explicit context object for the split strategy. It is driven by
// a single goroutine; RunCycle calls must not overlap.
type Bot struct {
	cfg  Config
	deps Deps

	ledger        *domain.Ledger
	lastReconcile time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a bot. The ledger is loaded lazily on the first cycle, or
// explicitly with Load.
func New(cfg Config, deps Deps) *Bot {
	cfg.fill()
	if deps.Allocator == nil {
		deps.Allocator = allocator.New(allocator.Config{Currency: cfg.Currency}, deps.Broker)
	}
	if deps.Entry == nil {
		deps.Entry = entry.New(entry.Config{Slots: cfg.Slots})
	}
	if deps.Exit == nil {
		deps.Exit = exit.New(exit.Config{})
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(reconcile.Config{Currency: cfg.Currency}, deps.Broker)
	}
	return &Bot{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// WithClock overrides the clock. Used by tests.
func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	b.deps.Reconciler.WithClock(now)
	return b
}

// WithSleep overrides the fill-confirmation wait. Used by tests.
func (b *Bot) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Bot {
	b.sleep = sleep
	return b
}

// Load reads the ledger and onboards every configured instrument.
func (b *Bot) Load(ctx context.Context) error {
	l, err := b.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine.Load: %w", err)
	}
	b.ledger = l

	var added []string
	for _, spec := range b.cfg.Instruments {
		if b.ledger.Get(spec.Code) == nil {
			added = append(added, spec.Code)
		}
	}
	err = b.commit(ctx, "engine.Load", func(l *domain.Ledger) error {
		for _, spec := range b.cfg.Instruments {
			l.Ensure(spec.Code, spec.Name, b.cfg.Slots)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(added) > 0 {
		slog.Info("engine: instruments onboarded", "codes", added)
	}
	return nil
}

// commit applies fn to the ledger and saves it. If fn or the save fails the
// in-memory ledger goes back to its state before the call.
func (b *Bot) commit(ctx context.Context, op string, fn func(l *domain.Ledger) error) error {
	snapshot := b.ledger.Clone()
	if err := fn(b.ledger); err != nil {
		b.ledger = snapshot
		return err
	}
	b.ledger.UpdatedAt = b.now()
	if err := b.deps.Store.Save(ctx, b.ledger); err != nil {
		b.ledger = snapshot
		slog.Error("engine: ledger save failed, state rolled back", "op", op, "err", err)
		return domain.NewError(domain.KindPersistence, op, "", err)
	}
	return nil
}

// Holdings returns the ledger's view of every non-empty position.
func (b *Bot) Holdings() []domain.Holding {
	if b.ledger == nil {
		return nil
	}
	var out []domain.Holding
	for _, in := range b.ledger.Instruments {
		if q := in.HeldQty(); q > 0 {
			out = append(out, domain.Holding{Code: in.Code, Quantity: q, AvgPrice: in.AvgEntryPrice()})
		}
	}
	return out
}

// RealizedPnL is the cumulative realized profit across instruments.
func (b *Bot) RealizedPnL() float64 {
	if b.ledger == nil {
		return 0
	}
	return b.ledger.RealizedPnL()
}

// PendingOrders lists orders awaiting confirmation, by instrument code.
func (b *Bot) PendingOrders() []domain.PendingOrder {
	if b.ledger == nil {
		return nil
	}
	out := make([]domain.PendingOrder, 0, len(b.ledger.Pending))
	for _, p := range b.ledger.Pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Ledger returns a deep copy of the current ledger for reporting.
func (b *Bot) Ledger() *domain.Ledger {
	if b.ledger == nil {
		return nil
	}
	return b.ledger.Clone()
}

// Reconcile runs a full reconciliation pass and saves the result.
func (b *Bot) Reconcile(ctx context.Context) (reconcile.Report, error) {
	if b.ledger == nil {
		if err := b.Load(ctx); err != nil {
			return reconcile.Report{}, err
		}
	}
	var rep reconcile.Report
	err := b.commit(ctx, "engine.Reconcile", func(l *domain.Ledger) error {
		r, err := b.deps.Reconciler.All(ctx, l)
		rep = r
		return err
	})
	if err != nil {
		return reconcile.Report{}, err
	}
	b.lastReconcile = b.now()
	for _, res := range rep.Results {
		b.deps.Metrics.Reconciled(string(res.Outcome))
	}
	for _, a := range rep.Alerts() {
		b.notify(ctx, a)
	}
	return rep, nil
}

// notify sends an alert to the operator and the journal. Delivery failures
// are logged and otherwise ignored.
func (b *Bot) notify(ctx context.Context, a domain.Alert) {
	if a.At.IsZero() {
		a.At = b.now()
	}
	if b.deps.Notifier != nil {
		if err := b.deps.Notifier.Alert(ctx, a); err != nil {
			slog.Warn("engine: alert delivery failed", "err", err)
		}
	}
	if b.deps.Journal != nil {
		if err := b.deps.Journal.RecordAlert(ctx, a); err != nil {
			slog.Warn("engine: journal alert failed", "err", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
